package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error)
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]Tenant, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Tenant, error)
	// ApplyPlanUpgrade moves the tenant to plan when it ranks strictly higher
	// than the current tier. It never downgrades.
	ApplyPlanUpgrade(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, plan Plan) (bool, error)
	Purge(ctx context.Context, tenantID snowflake.ID, actorID string) (PurgeCounts, error)
}

type CreateTenantRequest struct {
	Name             string         `json:"name"`
	Plan             string         `json:"plan"`
	WhatsAppInstance string         `json:"whatsapp_instance"`
	Features         map[string]any `json:"features"`
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrSlugTaken       = errors.New("slug_taken")
	ErrTenantNotFound  = errors.New("tenant_not_found")
	ErrProtectedTenant = errors.New("protected_tenant")
)
