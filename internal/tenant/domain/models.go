// Package domain contains the tenant model and plan tiers.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Plan string

const (
	PlanLite    Plan = "lite"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

// MasterSlug names the operator tenant, which cannot be purged.
const MasterSlug = "master"

var planRank = map[Plan]int{
	PlanLite:    1,
	PlanBasic:   2,
	PlanPremium: 3,
}

// ParsePlan normalizes a plan name; ok is false for unknown tiers.
func ParsePlan(raw string) (Plan, bool) {
	plan := Plan(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := planRank[plan]
	return plan, ok
}

// Rank orders tiers lite < basic < premium. Unknown tiers rank 0.
func (p Plan) Rank() int {
	return planRank[p]
}

// Tenant is one real-estate agency.
type Tenant struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name             string            `gorm:"type:text;not null" json:"name"`
	Slug             string            `gorm:"type:text;not null;uniqueIndex:ux_tenants_slug" json:"slug"`
	IsActive         bool              `gorm:"not null;default:true" json:"is_active"`
	Plan             Plan              `gorm:"type:text;not null;default:'lite'" json:"plan"`
	Features         datatypes.JSONMap `gorm:"type:jsonb" json:"features"`
	WhatsAppInstance *string           `gorm:"column:whatsapp_instance;type:text" json:"whatsapp_instance,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Instance returns the messaging sender instance, or "" when unset.
func (t Tenant) Instance() string {
	if t.WhatsAppInstance == nil {
		return ""
	}
	return strings.TrimSpace(*t.WhatsAppInstance)
}
