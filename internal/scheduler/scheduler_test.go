package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/rentledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/rentledger/internal/audit/service"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	chargeservice "github.com/smallbiznis/rentledger/internal/charge/service"
	"github.com/smallbiznis/rentledger/internal/clock"
	"github.com/smallbiznis/rentledger/internal/config"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	contractservice "github.com/smallbiznis/rentledger/internal/contract/service"
	indexdomain "github.com/smallbiznis/rentledger/internal/economicindex/domain"
	indexservice "github.com/smallbiznis/rentledger/internal/economicindex/service"
	"github.com/smallbiznis/rentledger/internal/notification"
	obsmetrics "github.com/smallbiznis/rentledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/rentledger/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/rentledger/internal/tenant/service"
	"github.com/smallbiznis/rentledger/internal/testutil/dbtest"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
	// failures keyed by recipient phone
	failures map[string]error
}

func (r *recordingNotifier) Dispatch(ctx context.Context, msg notification.Message) error {
	if msg.Instance == "" || (msg.Recipient.Phone == "" && msg.Recipient.Email == "") {
		return notification.ErrNoChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[msg.Recipient.Phone]; err != nil {
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, msg := range r.sent {
		out = append(out, msg.Template)
	}
	return out
}

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	notifier *recordingNotifier
	billing  config.BillingConfig
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t,
		&tenantdomain.Tenant{},
		&contractdomain.Contract{},
		&contractdomain.Person{},
		&contractdomain.Property{},
		&chargedomain.Charge{},
		&paymentdomain.Payment{},
		&indexdomain.EconomicIndex{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(11)
	require.NoError(t, err)
	return &harness{
		db:       db,
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)),
		notifier: &recordingNotifier{},
		billing:  config.DefaultBillingConfig(),
	}
}

func (h *harness) scheduler(t *testing.T, opts ...func(*Params)) *Scheduler {
	t.Helper()
	log := zap.NewNop()
	audit := auditservice.NewService(auditservice.Params{DB: h.db, Log: log, GenID: h.node, Repo: auditrepo.Provide()})
	tenants := tenantservice.NewService(tenantservice.Params{
		DB: h.db, Log: log, GenID: h.node, Repo: tenantrepo.NewRepository(h.db), AuditSvc: audit,
	})
	contracts := contractservice.NewService(contractservice.Params{DB: h.db, Log: log})
	holder := config.NewStaticBillingConfigHolder(h.billing)

	params := Params{
		DB:          h.db,
		Log:         log,
		Clock:       h.clock,
		Billing:     holder,
		TenantSvc:   tenants,
		ContractSvc: contracts,
		ChargeSvc: chargeservice.NewService(chargeservice.Params{
			DB: h.db, Log: log, GenID: h.node, ContractSvc: contracts, TenantSvc: tenants, Billing: holder,
		}),
		IndexSvc: indexservice.NewService(indexservice.Params{DB: h.db, Log: log, GenID: h.node}),
		AuditSvc: audit,
		Notifier: h.notifier,
	}
	for _, opt := range opts {
		opt(&params)
	}
	sched, err := New(params)
	require.NoError(t, err)
	return sched
}

func (h *harness) tenant(t *testing.T, active bool, instance string) snowflake.ID {
	t.Helper()
	now := time.Now().UTC()
	id := h.node.Generate()
	tenant := tenantdomain.Tenant{
		ID: id, Name: "Inmo " + id.String(), Slug: "inmo-" + id.String(), IsActive: true,
		Plan: tenantdomain.PlanLite, CreatedAt: now, UpdatedAt: now,
	}
	if instance != "" {
		tenant.WhatsAppInstance = &instance
	}
	require.NoError(t, h.db.Create(&tenant).Error)
	if !active {
		require.NoError(t, h.db.Model(&tenantdomain.Tenant{}).Where("id = ?", id).Update("is_active", false).Error)
	}
	return id
}

type contractFixture struct {
	adjustment contractdomain.AdjustmentType
	start      time.Time
	end        time.Time
	rent       int64
	phone      string
}

func (h *harness) contract(t *testing.T, tenantID snowflake.ID, in contractFixture) *contractdomain.Contract {
	t.Helper()
	now := time.Now().UTC()
	person := contractdomain.Person{ID: h.node.Generate(), TenantID: tenantID, FullName: "Juan Pérez", CreatedAt: now}
	if in.phone != "" {
		phone := in.phone
		person.Phone = &phone
	}
	property := contractdomain.Property{ID: h.node.Generate(), TenantID: tenantID, Address: "Calle 1", CreatedAt: now}
	require.NoError(t, h.db.Create(&person).Error)
	require.NoError(t, h.db.Create(&property).Error)

	contract := &contractdomain.Contract{
		ID:                     h.node.Generate(),
		TenantID:               tenantID,
		PropertyID:             property.ID,
		PersonID:               person.ID,
		StartDate:              in.start,
		EndDate:                in.end,
		MonthlyRent:            decimal.NewFromInt(in.rent),
		AdjustmentType:         in.adjustment,
		AdjustmentPeriodMonths: 12,
		Status:                 contractdomain.StatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, h.db.Create(contract).Error)
	return contract
}

func (h *harness) index(t *testing.T, date time.Time, a int64) {
	t.Helper()
	require.NoError(t, h.db.Create(&indexdomain.EconomicIndex{
		ID:          h.node.Generate(),
		IndexDate:   date,
		IndexAValue: decimal.NewNullDecimal(decimal.NewFromInt(a)),
		CreatedAt:   time.Now().UTC(),
	}).Error)
}

func (h *harness) reload(t *testing.T, id snowflake.ID) contractdomain.Contract {
	t.Helper()
	var c contractdomain.Contract
	require.NoError(t, h.db.Where("id = ?", id).Take(&c).Error)
	return c
}

type fixtureContracts struct {
	expiring     *contractdomain.Contract
	noContact    *contractdomain.Contract
	dueToday     *contractdomain.Contract
	missed       *contractdomain.Contract
	indexMissing *contractdomain.Contract
}

func seedStandardTenant(t *testing.T, h *harness) (snowflake.ID, fixtureContracts) {
	tenantID := h.tenant(t, true, "inmo-1")
	h.index(t, day(2024, time.February, 10), 80)
	h.index(t, day(2024, time.March, 15), 100)
	h.index(t, day(2025, time.March, 15), 150)

	return tenantID, fixtureContracts{
		expiring: h.contract(t, tenantID, contractFixture{
			adjustment: contractdomain.AdjustmentFixed, start: day(2023, time.April, 1),
			end: day(2025, time.March, 30), rent: 90000, phone: "+54 9 11 5555-0001",
		}),
		noContact: h.contract(t, tenantID, contractFixture{
			adjustment: contractdomain.AdjustmentFixed, start: day(2023, time.April, 1),
			end: day(2025, time.March, 30), rent: 70000,
		}),
		dueToday: h.contract(t, tenantID, contractFixture{
			adjustment: contractdomain.AdjustmentIndexA, start: day(2024, time.March, 15),
			end: day(2026, time.March, 15), rent: 100000, phone: "5491155550002",
		}),
		missed: h.contract(t, tenantID, contractFixture{
			adjustment: contractdomain.AdjustmentIndexA, start: day(2024, time.February, 10),
			end: day(2026, time.February, 10), rent: 100000, phone: "5491155550003",
		}),
		indexMissing: h.contract(t, tenantID, contractFixture{
			adjustment: contractdomain.AdjustmentIndexB, start: day(2024, time.March, 15),
			end: day(2026, time.March, 15), rent: 100000, phone: "5491155550004",
		}),
	}
}

func TestDailyCheckRunsAllTasks(t *testing.T) {
	h := newHarness(t)
	tenantID, c := seedStandardTenant(t, h)
	inactive := h.tenant(t, false, "inmo-2")
	h.contract(t, inactive, contractFixture{
		adjustment: contractdomain.AdjustmentFixed, start: day(2023, time.April, 1),
		end: day(2025, time.March, 30), rent: 1000, phone: "1",
	})

	summary, err := h.scheduler(t).DailyCheck(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.ExpirationSent)
	assert.Equal(t, 1, summary.AdjustmentsApplied)
	assert.Equal(t, 5, summary.ChargesGenerated)
	assert.Len(t, summary.Errors, 2, summary.Errors)

	assert.True(t, h.reload(t, c.expiring.ID).ExpirationNotified)
	assert.False(t, h.reload(t, c.noContact.ID).ExpirationNotified)

	adjusted := h.reload(t, c.dueToday.ID)
	assert.Equal(t, "150000.00", adjusted.CurrentRent.Decimal.StringFixed(2))
	assert.Equal(t, "150000.00", adjusted.BaseAmount.Decimal.StringFixed(2))
	require.NotNil(t, adjusted.LastAdjustmentDate)
	assert.True(t, adjusted.LastAdjustmentDate.Equal(day(2025, time.March, 15)))

	// without catch-up a missed anniversary stays untouched
	assert.False(t, h.reload(t, c.missed.ID).CurrentRent.Valid)
	assert.False(t, h.reload(t, c.indexMissing.ID).CurrentRent.Valid)

	assert.ElementsMatch(t,
		[]string{config.TemplateContractExpiration, config.TemplateRentAdjustment},
		h.notifier.templates())
	assert.Equal(t, "5491155550001", h.notifier.sent[0].Recipient.Phone)

	var audits int64
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).
		Where("tenant_id = ? AND action = ?", tenantID, "contract.rent_adjusted").Count(&audits).Error)
	assert.EqualValues(t, 1, audits)

	var charges int64
	require.NoError(t, h.db.Model(&chargedomain.Charge{}).Where("period = ?", "2025-03").Count(&charges).Error)
	assert.EqualValues(t, 5, charges)
}

func TestDailyCheckIsRepeatable(t *testing.T) {
	h := newHarness(t)
	seedStandardTenant(t, h)
	sched := h.scheduler(t)

	_, err := sched.DailyCheck(context.Background())
	require.NoError(t, err)

	summary, err := sched.DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.ExpirationSent)
	assert.Zero(t, summary.AdjustmentsApplied)
	assert.Zero(t, summary.ChargesGenerated)
	// the contact-less notice and the missing index are retried and reported again
	assert.Len(t, summary.Errors, 2)
	assert.Len(t, h.notifier.templates(), 2)
}

func TestDailyCheckCatchesUpMissedAdjustments(t *testing.T) {
	h := newHarness(t)
	h.billing.CatchUpMissedAdjustments = true
	h.billing.GenerateCharges = false
	_, c := seedStandardTenant(t, h)

	summary, err := h.scheduler(t).DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.AdjustmentsApplied)
	assert.Zero(t, summary.ChargesGenerated)

	missed := h.reload(t, c.missed.ID)
	assert.Equal(t, "187500.00", missed.CurrentRent.Decimal.StringFixed(2))
	require.NotNil(t, missed.LastAdjustmentDate)
	assert.True(t, missed.LastAdjustmentDate.Equal(day(2025, time.March, 15)))
}

func TestDailyCheckUsesPolicyNoticeWindow(t *testing.T) {
	h := newHarness(t)
	h.billing.ExpirationNoticeDays = 30
	h.billing.GenerateCharges = false
	tenantID := h.tenant(t, true, "inmo-1")
	h.contract(t, tenantID, contractFixture{
		adjustment: contractdomain.AdjustmentFixed, start: day(2023, time.April, 1),
		end: day(2025, time.March, 30), rent: 1000, phone: "1",
	})
	soon := h.contract(t, tenantID, contractFixture{
		adjustment: contractdomain.AdjustmentFixed, start: day(2023, time.April, 1),
		end: day(2025, time.April, 14), rent: 1000, phone: "2",
	})

	summary, err := h.scheduler(t).DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExpirationSent)
	assert.True(t, h.reload(t, soon.ID).ExpirationNotified)
}

func TestAdjustmentDue(t *testing.T) {
	today := day(2025, time.March, 31)
	last := day(2024, time.March, 31)
	contract := &contractdomain.Contract{
		AdjustmentType:         contractdomain.AdjustmentIndexA,
		StartDate:              day(2023, time.January, 31),
		LastAdjustmentDate:     &last,
		AdjustmentPeriodMonths: 12,
	}
	assert.True(t, adjustmentDue(contract, today, false))

	contract.AdjustmentPeriodMonths = 1
	// Mar 31 + 1 month clamps to Apr 30
	assert.False(t, adjustmentDue(contract, today, false))
	assert.True(t, adjustmentDue(contract, day(2024, time.April, 30), false))

	contract.AdjustmentType = contractdomain.AdjustmentFixed
	assert.False(t, adjustmentDue(contract, day(2024, time.April, 30), true))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type flakyCharges struct {
	chargedomain.Service
	failuresLeft int
}

func (f *flakyCharges) GenerateTx(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, month, year int) (int, error) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return 0, errors.New("db hiccup")
	}
	return f.Service.GenerateTx(ctx, tx, scope, month, year)
}

func TestDailyCheckTenantRollbackSendsNothing(t *testing.T) {
	h := newHarness(t)
	tenantID, c := seedStandardTenant(t, h)
	sched := h.scheduler(t, func(p *Params) {
		p.ChargeSvc = &flakyCharges{Service: p.ChargeSvc, failuresLeft: 1}
	})

	summary, err := sched.DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.ExpirationSent)
	assert.Zero(t, summary.AdjustmentsApplied)
	assert.Zero(t, summary.ChargesGenerated)
	assert.Contains(t, strings.Join(summary.Errors, "\n"), "generate charges: db hiccup")
	assert.Empty(t, h.notifier.templates())

	assert.False(t, h.reload(t, c.expiring.ID).ExpirationNotified)
	assert.False(t, h.reload(t, c.dueToday.ID).CurrentRent.Valid)
	var audits int64
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).
		Where("tenant_id = ? AND action = ?", tenantID, "contract.rent_adjusted").Count(&audits).Error)
	assert.Zero(t, audits)

	summary, err = sched.DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExpirationSent)
	assert.Equal(t, 1, summary.AdjustmentsApplied)
	assert.Equal(t, 5, summary.ChargesGenerated)

	_, err = sched.DailyCheck(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{config.TemplateContractExpiration, config.TemplateRentAdjustment},
		h.notifier.templates())
}

var errCommitRefused = errors.New("commit refused")

// commitRefusingPool hands out transactions that roll back on Commit.
type commitRefusingPool struct{ *sql.DB }

func (p commitRefusingPool) BeginTx(ctx context.Context, opts *sql.TxOptions) (gorm.ConnPool, error) {
	tx, err := p.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &commitRefusingTx{Tx: tx}, nil
}

type commitRefusingTx struct{ *sql.Tx }

func (t *commitRefusingTx) Commit() error {
	_ = t.Tx.Rollback()
	return errCommitRefused
}

func TestDailyCheckCommitFailureRollsBackRun(t *testing.T) {
	h := newHarness(t)
	tenantID, c := seedStandardTenant(t, h)

	sqlDB, err := h.db.DB()
	require.NoError(t, err)
	refusing := h.db.Session(&gorm.Session{Context: context.Background()})
	refusing.Statement.ConnPool = commitRefusingPool{DB: sqlDB}

	summary, err := h.scheduler(t, func(p *Params) { p.DB = refusing }).DailyCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit refused")
	assert.Contains(t, summary.Errors, "Commit: commit refused")
	assert.Zero(t, summary.ExpirationSent)
	assert.Zero(t, summary.AdjustmentsApplied)
	assert.Zero(t, summary.ChargesGenerated)
	assert.Empty(t, h.notifier.templates())

	assert.False(t, h.reload(t, c.expiring.ID).ExpirationNotified)
	assert.False(t, h.reload(t, c.dueToday.ID).CurrentRent.Valid)

	var charges, audits int64
	require.NoError(t, h.db.Model(&chargedomain.Charge{}).Count(&charges).Error)
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).Where("tenant_id = ?", tenantID).Count(&audits).Error)
	assert.Zero(t, charges)
	assert.Zero(t, audits)
}

func TestDailyCheckCanceledRunAppliesNothing(t *testing.T) {
	h := newHarness(t)
	_, c := seedStandardTenant(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.scheduler(t).DailyCheck(ctx)
	require.Error(t, err)
	assert.Zero(t, summary.AdjustmentsApplied)
	assert.Zero(t, summary.ChargesGenerated)
	assert.Empty(t, h.notifier.templates())
	assert.False(t, h.reload(t, c.dueToday.ID).CurrentRent.Valid)
}

func TestDailyCheckDeliveryFailureKeepsFlagUnset(t *testing.T) {
	h := newHarness(t)
	h.billing.GenerateCharges = false
	_, c := seedStandardTenant(t, h)
	h.notifier.failures = map[string]error{
		"5491155550001": errors.New("whatsapp down"),
		"5491155550002": errors.New("whatsapp down"),
	}
	sched := h.scheduler(t)

	summary, err := sched.DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.ExpirationSent)
	assert.Equal(t, 1, summary.AdjustmentsApplied)
	errs := strings.Join(summary.Errors, "\n")
	assert.Contains(t, errs, "contract "+c.expiring.ID.String()+" expiration notice: whatsapp down")
	assert.Contains(t, errs, "contract "+c.dueToday.ID.String()+" adjustment notice: whatsapp down")
	assert.Empty(t, h.notifier.templates())

	// the adjustment stands even though its notice failed
	assert.Equal(t, "150000.00", h.reload(t, c.dueToday.ID).CurrentRent.Decimal.StringFixed(2))
	assert.False(t, h.reload(t, c.expiring.ID).ExpirationNotified)

	h.notifier.mu.Lock()
	h.notifier.failures = nil
	h.notifier.mu.Unlock()

	summary, err = sched.DailyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExpirationSent)
	assert.Zero(t, summary.AdjustmentsApplied)
	assert.Equal(t, []string{config.TemplateContractExpiration}, h.notifier.templates())
	assert.True(t, h.reload(t, c.expiring.ID).ExpirationNotified)
}

func TestDailyCheckRecordsCommittedAdjustments(t *testing.T) {
	h := newHarness(t)
	h.billing.GenerateCharges = false
	seedStandardTenant(t, h)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	domainMetrics, err := obsmetrics.New(obsmetrics.Config{ServiceName: "rentledger"}, provider)
	require.NoError(t, err)

	_, err = h.scheduler(t, func(p *Params) { p.ObsMetrics = domainMetrics }).DailyCheck(context.Background())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "rentledger_rent_adjustments_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.EqualValues(t, 1, total)
}
