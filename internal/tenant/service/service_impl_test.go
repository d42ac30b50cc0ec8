package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/rentledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/rentledger/internal/audit/service"
	chargedomain "github.com/smallbiznis/rentledger/internal/charge/domain"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
	"github.com/smallbiznis/rentledger/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/rentledger/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/rentledger/internal/tenant/service"
	"github.com/smallbiznis/rentledger/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t,
		&domain.Tenant{},
		&contractdomain.Person{},
		&contractdomain.Property{},
		&contractdomain.Contract{},
		&chargedomain.Charge{},
		&paymentdomain.Payment{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	log := zap.NewNop()
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide()})
	svc := tenantservice.NewService(tenantservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     tenantrepo.NewRepository(db),
		AuditSvc: auditSvc,
	})
	return fixture{db: db, node: node, svc: svc}
}

// seedPortfolio writes one row per owned table for tenantID.
func (f fixture) seedPortfolio(t *testing.T, tenantID snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	person := contractdomain.Person{ID: f.node.Generate(), TenantID: tenantID, FullName: "Ana", CreatedAt: now}
	property := contractdomain.Property{ID: f.node.Generate(), TenantID: tenantID, Address: "Calle 1", CreatedAt: now}
	contract := contractdomain.Contract{
		ID:             f.node.Generate(),
		TenantID:       tenantID,
		PropertyID:     property.ID,
		PersonID:       person.ID,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		MonthlyRent:    decimal.NewFromInt(1000),
		AdjustmentType: contractdomain.AdjustmentFixed,
		Status:         contractdomain.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	charge := chargedomain.Charge{
		ID:          f.node.Generate(),
		TenantID:    tenantID,
		ContractID:  contract.ID,
		Period:      "2025-01",
		Description: chargedomain.Describe(1, 2025),
		Amount:      decimal.NewFromInt(1000),
		DueDate:     time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		IsPaid:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	chargeID := charge.ID
	payment := paymentdomain.Payment{
		ID:                    f.node.Generate(),
		TenantID:              tenantID,
		ChargeID:              &chargeID,
		Amount:                decimal.NewFromInt(1000),
		Method:                paymentdomain.MethodMercadoPago,
		ExternalTransactionID: "mp-" + chargeID.String(),
		PaidAt:                now,
		CreatedAt:             now,
	}
	require.NoError(t, f.db.Create(&person).Error)
	require.NoError(t, f.db.Create(&property).Error)
	require.NoError(t, f.db.Create(&contract).Error)
	require.NoError(t, f.db.Create(&charge).Error)
	require.NoError(t, f.db.Create(&payment).Error)
}

func count(t *testing.T, db *gorm.DB, table string, tenantID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table(table).Where("tenant_id = ?", tenantID).Count(&n).Error)
	return n
}

func TestCreateDefaultsToLite(t *testing.T) {
	f := newFixture(t)
	tenant, err := f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Inmobiliaria Río Sur"})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanLite, tenant.Plan)
	assert.Equal(t, "inmobiliaria-rio-sur", tenant.Slug)

	_, err = f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Inmobiliaria Rio Sur"})
	assert.ErrorIs(t, err, domain.ErrSlugTaken)

	_, err = f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Otra", Plan: "gold"})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestApplyPlanUpgradeIsUpgradeOnly(t *testing.T) {
	f := newFixture(t)
	tenant, err := f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Inmo", Plan: "basic"})
	require.NoError(t, err)

	upgraded, err := f.svc.ApplyPlanUpgrade(context.Background(), nil, tenant.ID, domain.PlanLite)
	require.NoError(t, err)
	assert.False(t, upgraded)

	upgraded, err = f.svc.ApplyPlanUpgrade(context.Background(), nil, tenant.ID, domain.PlanBasic)
	require.NoError(t, err)
	assert.False(t, upgraded)

	upgraded, err = f.svc.ApplyPlanUpgrade(context.Background(), nil, tenant.ID, domain.PlanPremium)
	require.NoError(t, err)
	assert.True(t, upgraded)

	got, err := f.svc.Get(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPremium, got.Plan)

	_, err = f.svc.ApplyPlanUpgrade(context.Background(), nil, f.node.Generate(), domain.PlanPremium)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestPurgeRemovesOnlyTheTenant(t *testing.T) {
	f := newFixture(t)
	doomed, err := f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Doomed"})
	require.NoError(t, err)
	survivor, err := f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Survivor"})
	require.NoError(t, err)
	f.seedPortfolio(t, doomed.ID)
	f.seedPortfolio(t, survivor.ID)

	counts, err := f.svc.Purge(context.Background(), doomed.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PurgeCounts{Payments: 1, Charges: 1, Contracts: 1, Properties: 1, People: 1}, counts)

	for _, table := range []string{"payments", "charges", "contracts", "properties", "people"} {
		assert.Zero(t, count(t, f.db, table, doomed.ID), table)
		assert.Equal(t, int64(1), count(t, f.db, table, survivor.ID), table)
	}

	_, err = f.svc.Get(context.Background(), doomed.ID)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	// the audit entry outlives the tenant
	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ? AND tenant_id = ?", "tenant.purged", doomed.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "admin-1", *logs[0].ActorID)
}

func TestPurgeRefusesMasterTenant(t *testing.T) {
	f := newFixture(t)
	master, err := f.svc.Create(context.Background(), domain.CreateTenantRequest{Name: "Master"})
	require.NoError(t, err)
	require.Equal(t, domain.MasterSlug, master.Slug)
	f.seedPortfolio(t, master.ID)

	_, err = f.svc.Purge(context.Background(), master.ID, "admin-1")
	assert.ErrorIs(t, err, domain.ErrProtectedTenant)
	assert.Equal(t, int64(1), count(t, f.db, "contracts", master.ID))

	_, err = f.svc.Purge(context.Background(), f.node.Generate(), "admin-1")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}
