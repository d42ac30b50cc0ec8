package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/rentledger/internal/adjustment"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	"github.com/smallbiznis/rentledger/internal/billingcycle"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	"github.com/smallbiznis/rentledger/internal/clock"
	"github.com/smallbiznis/rentledger/internal/config"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	indexdomain "github.com/smallbiznis/rentledger/internal/economicindex/domain"
	"github.com/smallbiznis/rentledger/internal/notification"
	obsmetrics "github.com/smallbiznis/rentledger/internal/observability/metrics"
	"github.com/smallbiznis/rentledger/internal/providers/whatsapp"
	"github.com/smallbiznis/rentledger/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrRunInProgress = errors.New("run_in_progress")
)

// Summary reports one daily run. Errors holds per-item failures that did not
// abort the run.
type Summary struct {
	RunID              string   `json:"run_id"`
	ExpirationSent     int      `json:"expiration_sent"`
	AdjustmentsApplied int      `json:"adjustments_applied"`
	ChargesGenerated   int      `json:"charges_generated"`
	Errors             []string `json:"errors"`
}

func (s *Summary) addError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// discardApplied zeroes the counts of work a rolled back run no longer holds.
func (s *Summary) discardApplied() {
	s.AdjustmentsApplied = 0
	s.ChargesGenerated = 0
}

type pendingNotice struct {
	scope          tenantctx.Scope
	contractID     snowflake.ID
	adjustmentType string
	msg            notification.Message
}

// outbox collects notices while the run transaction is open.
type outbox struct {
	expirations []pendingNotice
	adjustments []pendingNotice
}

func (o *outbox) merge(other outbox) {
	o.expirations = append(o.expirations, other.expirations...)
	o.adjustments = append(o.adjustments, other.adjustments...)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Billing     *config.BillingConfigHolder
	TenantSvc   tenantdomain.Service
	ContractSvc contractdomain.Service
	ChargeSvc   chargedomain.Service
	IndexSvc    indexdomain.Service
	AuditSvc    auditdomain.Service
	Notifier    notification.Dispatcher
	Locker      *ratelimit.Locker            `optional:"true"`
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
	Config      Config                       `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	billing     *config.BillingConfigHolder
	tenantSvc   tenantdomain.Service
	contractSvc contractdomain.Service
	chargeSvc   chargedomain.Service
	indexSvc    indexdomain.Service
	auditSvc    auditdomain.Service
	notifier    notification.Dispatcher
	locker      *ratelimit.Locker
	metrics     *obsmetrics.SchedulerMetrics
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.TenantSvc == nil || p.ContractSvc == nil ||
		p.ChargeSvc == nil || p.IndexSvc == nil || p.AuditSvc == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		billing:     p.Billing,
		tenantSvc:   p.TenantSvc,
		contractSvc: p.ContractSvc,
		chargeSvc:   p.ChargeSvc,
		indexSvc:    p.IndexSvc,
		auditSvc:    p.AuditSvc,
		notifier:    p.Notifier,
		locker:      p.Locker,
		metrics:     p.Metrics,
		obsMetrics:  p.ObsMetrics,
	}, nil
}

// RunForever runs DailyCheck every RunInterval until ctx ends. Re-running on
// the same day is harmless: notices carry a flag, adjustments move their
// anchor to today and charges are keyed by period.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		summary, err := s.DailyCheck(ctx)
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.log.Info("daily check skipped, another run holds the lock")
		case err != nil:
			s.log.Warn("daily check failed", zap.Error(err), zap.Strings("errors", summary.Errors))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DailyCheck applies due adjustments and generates the month's charges for
// every active tenant inside one transaction. Notices go out only once that
// transaction has committed.
func (s *Scheduler) DailyCheck(parent context.Context) (Summary, error) {
	summary := Summary{Errors: []string{}}

	token, ok, err := s.locker.TryLock(parent, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return summary, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return summary, ErrRunInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, s.cfg.LockKey, token); err != nil {
			s.log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	summary.RunID = ulid.Make().String()
	ctx = withRun(ctx, summary.RunID)

	started := time.Now()
	policy := s.billing.Get()
	today := billingcycle.Today(s.clock.Now(), policy.Location())

	s.metrics.IncJobRun(jobDailyCheck)
	s.logRunStart(ctx, today)

	err = s.dailyCheck(ctx, today, policy, &summary)

	s.metrics.ObserveJobDuration(jobDailyCheck, time.Since(started))
	s.metrics.AddBatchProcessed(jobDailyCheck, obsmetrics.ResourceNotifications, summary.ExpirationSent)
	s.metrics.AddBatchProcessed(jobDailyCheck, obsmetrics.ResourceAdjustments, summary.AdjustmentsApplied)
	s.metrics.AddBatchProcessed(jobDailyCheck, obsmetrics.ResourceCharges, summary.ChargesGenerated)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.IncJobTimeout(jobDailyCheck)
		}
		s.metrics.IncJobError(jobDailyCheck, err)
		s.logger(ctx).Error("scheduler.run.failed", zap.Error(err))
	}
	s.logRunFinish(ctx, started, summary)
	return summary, err
}

func (s *Scheduler) dailyCheck(ctx context.Context, today time.Time, policy config.BillingConfig, summary *Summary) error {
	// index sync makes its own HTTP calls, so it stays outside the transaction
	if policy.SyncIndices {
		appended, err := s.indexSvc.Sync(ctx)
		if err != nil {
			summary.addError("index sync: %v", err)
			s.logItemError(ctx, "index sync failed", 0, obsmetrics.ResourceIndexPoints, err)
		}
		s.metrics.AddBatchProcessed(jobDailyCheck, obsmetrics.ResourceIndexPoints, appended)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin: %w", tx.Error)
	}

	tenants, err := s.tenantSvc.ListActive(ctx, tx)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("list tenants: %w", err)
	}

	var pending outbox
	for i := range tenants {
		if err := ctx.Err(); err != nil {
			tx.Rollback()
			summary.discardApplied()
			summary.addError("Rollback: %v", err)
			return err
		}
		if work, ok := s.runTenant(ctx, tx, &tenants[i], today, policy, summary); ok {
			pending.merge(work)
		}
	}

	if err := tx.Commit().Error; err != nil {
		summary.discardApplied()
		summary.addError("Commit: %v", err)
		return fmt.Errorf("commit: %w", err)
	}

	// the run deadline bounds the transaction, not delivery of what it committed
	s.deliver(context.WithoutCancel(ctx), pending, summary)
	return nil
}

// runTenant works one tenant under a savepoint so a failed statement does not
// poison the rest of the shared transaction. The returned outbox is only
// valid when ok is true.
func (s *Scheduler) runTenant(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, today time.Time, policy config.BillingConfig, summary *Summary) (outbox, bool) {
	scope := tenantctx.ForJob(tenant.ID)
	ctx = tenantctx.WithScope(ctx, scope)
	savepoint := "tenant_" + tenant.ID.String()

	if err := tx.SavePoint(savepoint).Error; err != nil {
		summary.addError("tenant %s: %v", tenant.ID, err)
		s.logItemError(ctx, "savepoint failed", tenant.ID, obsmetrics.ResourceContracts, err)
		return outbox{}, false
	}

	before := *summary
	work, err := s.processTenant(ctx, tx, scope, tenant, today, policy, summary)
	if err != nil {
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		// work rolled back with the savepoint is no longer applied
		summary.AdjustmentsApplied = before.AdjustmentsApplied
		summary.ChargesGenerated = before.ChargesGenerated
		summary.addError("tenant %s: %v", tenant.ID, err)
		s.logItemError(ctx, "tenant run failed", tenant.ID, obsmetrics.ResourceContracts, err)
		return outbox{}, false
	}
	return work, true
}

func (s *Scheduler) processTenant(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, tenant *tenantdomain.Tenant, today time.Time, policy config.BillingConfig, summary *Summary) (outbox, error) {
	var work outbox
	contracts, err := s.contractSvc.ListActive(ctx, tx, scope)
	if err != nil {
		return work, fmt.Errorf("list contracts: %w", err)
	}

	noticeDay := billingcycle.AddDays(today, policy.ExpirationNoticeDays)
	for _, contract := range contracts {
		if contract.ExpirationNotified || !billingcycle.SameDay(contract.EndDate, noticeDay) {
			continue
		}
		contact, err := s.contractSvc.Contact(ctx, tx, scope, contract)
		if err != nil {
			return work, fmt.Errorf("contract %s contact: %w", contract.ID, err)
		}
		work.expirations = append(work.expirations, pendingNotice{
			scope:      scope,
			contractID: contract.ID,
			msg: buildMessage(tenant, contact, config.TemplateContractExpiration,
				notification.NewExpirationData(personName(contact), contract.EndDate, contract.EffectiveRent())),
		})
	}

	calculator := adjustment.NewCalculator(s.indexSvc.WithTx(tx))
	for _, contract := range contracts {
		if !adjustmentDue(contract, today, policy.CatchUpMissedAdjustments) {
			continue
		}
		notice, applied, err := s.applyAdjustment(ctx, tx, scope, tenant, calculator, contract, today, summary)
		if err != nil {
			return work, err
		}
		if applied {
			work.adjustments = append(work.adjustments, notice)
		}
	}

	if policy.GenerateCharges {
		created, err := s.chargeSvc.GenerateTx(ctx, tx, scope, int(today.Month()), today.Year())
		if err != nil {
			return work, fmt.Errorf("generate charges: %w", err)
		}
		summary.ChargesGenerated += created
	}
	return work, nil
}

// applyAdjustment writes the new rent and its audit entry. The change notice
// is returned for delivery after commit. applied is false when the
// adjustment could not be calculated.
func (s *Scheduler) applyAdjustment(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, tenant *tenantdomain.Tenant, calculator *adjustment.Calculator, contract *contractdomain.Contract, today time.Time, summary *Summary) (pendingNotice, bool, error) {
	result, err := calculator.Calculate(ctx, contract, today)
	if err != nil {
		if errors.Is(err, adjustment.ErrIndeterminate) {
			summary.addError("contract %s: adjustment could not be calculated", contract.ID)
			s.logItemError(ctx, "adjustment indeterminate", tenant.ID, obsmetrics.ResourceAdjustments, err,
				zap.String("contract_id", contract.ID.String()))
			return pendingNotice{}, false, nil
		}
		return pendingNotice{}, false, fmt.Errorf("contract %s adjustment: %w", contract.ID, err)
	}

	oldAmount := contract.EffectiveRent()
	if err := s.contractSvc.ApplyAdjustment(ctx, tx, scope, contract.ID, result.NewAmount, today); err != nil {
		return pendingNotice{}, false, fmt.Errorf("contract %s apply adjustment: %w", contract.ID, err)
	}
	tenantID := tenant.ID
	if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		TenantID:   &tenantID,
		ActorType:  auditdomain.ActorTypeSystem,
		ActorID:    "scheduler",
		Action:     "contract.rent_adjusted",
		TargetType: "contract",
		TargetID:   contract.ID.String(),
		Metadata: map[string]any{
			"run_id":         runIDFromContext(ctx),
			"adjustment":     string(contract.AdjustmentType),
			"old_amount":     oldAmount.StringFixed(2),
			"new_amount":     result.NewAmount.StringFixed(2),
			"percent_change": result.PercentChange.StringFixed(2),
			"index_base":     result.IndexBase.String(),
			"index_now":      result.IndexNow.String(),
		},
	}); err != nil {
		return pendingNotice{}, false, fmt.Errorf("contract %s audit: %w", contract.ID, err)
	}

	contact, err := s.contractSvc.Contact(ctx, tx, scope, contract)
	if err != nil {
		return pendingNotice{}, false, fmt.Errorf("contract %s contact: %w", contract.ID, err)
	}
	summary.AdjustmentsApplied++
	return pendingNotice{
		scope:          scope,
		contractID:     contract.ID,
		adjustmentType: string(contract.AdjustmentType),
		msg: buildMessage(tenant, contact, config.TemplateRentAdjustment,
			notification.NewAdjustmentData(personName(contact), oldAmount, result.NewAmount, result.PercentChange)),
	}, true, nil
}

// deliver sends the notices of a committed run. An expiration flag is set
// only after its notice went out, in its own statement, so a later failure
// cannot clear it.
func (s *Scheduler) deliver(ctx context.Context, pending outbox, summary *Summary) {
	for _, notice := range pending.expirations {
		if err := s.notifier.Dispatch(ctx, notice.msg); err != nil {
			if errors.Is(err, notification.ErrNoChannel) {
				summary.addError("contract %s: no contact channel for expiration notice", notice.contractID)
			} else {
				summary.addError("contract %s expiration notice: %v", notice.contractID, err)
			}
			s.logItemError(ctx, "expiration notice not sent", notice.msg.TenantID, obsmetrics.ResourceNotifications, err,
				zap.String("contract_id", notice.contractID.String()))
			continue
		}
		summary.ExpirationSent++

		if err := s.contractSvc.MarkExpirationNotified(ctx, s.db.WithContext(ctx), notice.scope, notice.contractID); err != nil {
			summary.addError("contract %s mark notified: %v", notice.contractID, err)
			s.logItemError(ctx, "expiration notice sent but flag not stored", notice.msg.TenantID, obsmetrics.ResourceContracts, err,
				zap.String("contract_id", notice.contractID.String()))
		}
	}

	for _, notice := range pending.adjustments {
		s.obsMetrics.RecordRentAdjustment(ctx, notice.adjustmentType)
		if err := s.notifier.Dispatch(ctx, notice.msg); err != nil {
			if errors.Is(err, notification.ErrNoChannel) {
				s.logger(ctx).Debug("adjustment notice skipped, no contact channel",
					zap.String("contract_id", notice.contractID.String()))
				continue
			}
			summary.addError("contract %s adjustment notice: %v", notice.contractID, err)
			s.logItemError(ctx, "adjustment notice not sent", notice.msg.TenantID, obsmetrics.ResourceNotifications, err,
				zap.String("contract_id", notice.contractID.String()))
		}
	}
}

// adjustmentDue reports whether an indexed contract adjusts on today. With
// catchUp, an adjustment missed on an earlier day also runs.
func adjustmentDue(contract *contractdomain.Contract, today time.Time, catchUp bool) bool {
	if !contract.AdjustmentType.Indexed() {
		return false
	}
	anchor, ok := contract.Anchor()
	if !ok {
		return false
	}
	next := billingcycle.AddMonths(billingcycle.DateOf(anchor, time.UTC), contract.Period())
	if billingcycle.SameDay(next, today) {
		return true
	}
	return catchUp && next.Before(today)
}

func buildMessage(tenant *tenantdomain.Tenant, contact contractdomain.Contact, template string, data any) notification.Message {
	msg := notification.Message{
		TenantID: tenant.ID,
		Instance: tenant.Instance(),
		Template: template,
		Data:     data,
	}
	if contact.Person != nil {
		msg.Recipient = notification.Recipient{
			Name:  contact.Person.FullName,
			Phone: whatsapp.NormalizeNumber(contact.Person.PhoneNumber()),
			Email: contact.Person.EmailAddress(),
		}
	}
	return msg
}

func personName(contact contractdomain.Contact) string {
	if contact.Person == nil || contact.Person.FullName == "" {
		return "Inquilino"
	}
	return contact.Person.FullName
}
