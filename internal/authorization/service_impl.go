package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/rentledger/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads the role model and persists policies through gorm.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object, action string) error {
	if strings.TrimSpace(actor.Subject) == "" {
		return ErrInvalidActor
	}
	role := NormalizeRole(actor.Role)
	if role == "" {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", actor.Subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, object, action string) {
	if s.auditSvc == nil {
		return
	}
	var tenantID = actor.TenantID
	entry := auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeUser,
		ActorID:    actor.Subject,
		Action:     "authorization.denied",
		TargetType: "capability",
		TargetID:   action,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   actor.Role,
		},
	}
	if tenantID != 0 {
		entry.TenantID = &tenantID
	}
	if err := s.auditSvc.Record(ctx, nil, entry); err != nil {
		s.log.Warn("failed to audit denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	agent := roleSubject(RoleAgent)
	admin := roleSubject(RoleAdmin)
	superadmin := roleSubject(RoleSuperAdmin)

	policies := [][]string{
		// Agent permissions (read-only)
		{agent, ObjectContract, ActionContractView},
		{agent, ObjectCharge, ActionChargeView},
		{agent, ObjectCharge, ActionChargeReceipt},
		{agent, ObjectPayment, ActionPaymentView},
		{agent, ObjectPayment, ActionPaymentCheckout},

		// Admin permissions
		{admin, ObjectContract, ActionContractUpdate},
		{admin, ObjectCharge, ActionChargeGenerate},
		{admin, ObjectAuditLog, ActionAuditLogView},
		{admin, ObjectTenant, ActionTenantUpgrade},
		{admin, ObjectReport, ActionReportExport},

		// Platform permissions
		{superadmin, ObjectTenant, ActionTenantCreate},
		{superadmin, ObjectTenant, ActionTenantPurge},
		{superadmin, ObjectTenant, ActionTenantSwitch},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{admin, agent},
		{superadmin, admin},
	}
	for _, link := range inheritance {
		has, err := enforcer.HasGroupingPolicy(link)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(link); err != nil {
			return err
		}
	}
	return nil
}
