package authorization

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleSuperAdmin = "SUPERADMIN"
	RoleAdmin      = "ADMIN"
	RoleAgent      = "AGENT"
)

const (
	ObjectContract = "contract"
	ObjectCharge   = "charge"
	ObjectTenant   = "tenant"
	ObjectAuditLog = "audit_log"
	ObjectPayment  = "payment"
	ObjectReport   = "report"
)

const (
	ActionContractView   = "contract.view"
	ActionContractUpdate = "contract.update"

	ActionChargeView     = "charge.view"
	ActionChargeGenerate = "charge.generate"
	ActionChargeReceipt  = "charge.receipt"

	ActionTenantCreate  = "tenant.create"
	ActionTenantPurge   = "tenant.purge"
	ActionTenantSwitch  = "tenant.switch"
	ActionTenantUpgrade = "tenant.upgrade"

	ActionAuditLogView = "audit_log.view"

	ActionPaymentView     = "payment.view"
	ActionPaymentCheckout = "payment.checkout"

	ActionReportExport = "report.export"
)

// Actor is the authenticated caller as carried by the bearer token.
type Actor struct {
	Subject  string
	Role     string
	TenantID snowflake.ID
}

// IsSuperAdmin reports whether the actor holds the platform role.
func (a Actor) IsSuperAdmin() bool {
	return NormalizeRole(a.Role) == RoleSuperAdmin
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object, action string) error
}

// NormalizeRole upper-cases a role claim and reports "" for unknown roles.
func NormalizeRole(role string) string {
	switch r := strings.ToUpper(strings.TrimSpace(role)); r {
	case RoleSuperAdmin, RoleAdmin, RoleAgent:
		return r
	}
	return ""
}

func roleSubject(role string) string {
	return "role:" + strings.ToLower(role)
}
