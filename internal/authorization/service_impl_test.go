package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/rentledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/rentledger/internal/audit/service"
	"github.com/smallbiznis/rentledger/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (Service, func() int64) {
	t.Helper()
	db := dbtest.Open(t, &auditdomain.AuditLog{})
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide()})

	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit})
	denials := func() int64 {
		var n int64
		require.NoError(t, db.Model(&auditdomain.AuditLog{}).Where("action = ?", "authorization.denied").Count(&n).Error)
		return n
	}
	return svc, denials
}

func TestRoleHierarchy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role   string
		object string
		action string
		allow  bool
	}{
		{RoleAgent, ObjectContract, ActionContractView, true},
		{RoleAgent, ObjectCharge, ActionChargeReceipt, true},
		{RoleAgent, ObjectContract, ActionContractUpdate, false},
		{RoleAdmin, ObjectContract, ActionContractView, true},
		{RoleAdmin, ObjectCharge, ActionChargeGenerate, true},
		{RoleAdmin, ObjectTenant, ActionTenantPurge, false},
		{"superadmin", ObjectTenant, ActionTenantPurge, true},
		{RoleSuperAdmin, ObjectCharge, ActionChargeView, true},
		{RoleAgent, ObjectPayment, ActionPaymentCheckout, true},
		{RoleAgent, ObjectTenant, ActionTenantUpgrade, false},
		{RoleAgent, ObjectReport, ActionReportExport, false},
		{RoleAdmin, ObjectTenant, ActionTenantUpgrade, true},
		{RoleAdmin, ObjectReport, ActionReportExport, true},
	}
	for _, tc := range cases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			err := svc.Authorize(ctx, Actor{Subject: "user-1", Role: tc.role, TenantID: 42}, tc.object, tc.action)
			if tc.allow {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestDenialIsAudited(t *testing.T) {
	svc, denials := newTestService(t)

	err := svc.Authorize(context.Background(), Actor{Subject: "user-1", Role: RoleAgent, TenantID: 42}, ObjectTenant, ActionTenantCreate)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.EqualValues(t, 1, denials())
}

func TestAuthorizeRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Role: RoleAdmin}, ObjectCharge, ActionChargeView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Subject: "u", Role: "owner"}, ObjectCharge, ActionChargeView), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Subject: "u", Role: RoleAdmin}, "", ActionChargeView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, Actor{Subject: "u", Role: RoleAdmin}, ObjectCharge, " "), ErrInvalidAction)
}

func TestSeedIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	_, err := NewEnforcer(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 9)
}
