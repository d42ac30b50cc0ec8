package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PurgeCounts reports the rows removed per table.
type PurgeCounts struct {
	Payments   int64 `json:"payments"`
	Charges    int64 `json:"charges"`
	Contracts  int64 `json:"contracts"`
	Properties int64 `json:"properties"`
	People     int64 `json:"people"`
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tenant *Tenant) error
	FindByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, id snowflake.ID) (*Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
	UpdatePlan(ctx context.Context, id snowflake.ID, plan Plan) error
	// DeleteOwnedRows removes tenant-owned rows leaf first. The order keeps
	// every foreign key satisfied at each step.
	DeleteOwnedRows(ctx context.Context, id snowflake.ID) (PurgeCounts, error)
	Delete(ctx context.Context, id snowflake.ID) (int64, error)
}
