package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/pkg/db/option"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"gorm.io/gorm"
)

var ErrScopeUnset = errors.New("tenant_scope_unset")

// Repository is an unscoped store for global tables.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID snowflake.ID, values map[string]any) error
	Count(ctx context.Context, query *T) (int64, error)
}

// TenantOwned is implemented by every row that belongs to a single tenant.
type TenantOwned interface {
	OwnerTenantID() snowflake.ID
	AssignTenant(tenantID snowflake.ID)
}

// ScopedRepository reads and writes rows of exactly one tenant.
type ScopedRepository[T any] interface {
	WithTrx(tx *gorm.DB) ScopedRepository[T]
	Scope() tenantctx.Scope
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	FindByID(ctx context.Context, id snowflake.ID) (*T, error)
	Count(ctx context.Context, filter *T) (int64, error)
	Create(ctx context.Context, entity *T) error
	// CreateIfAbsent inserts entity unless a row with the same conflict
	// columns exists. It reports whether a row was written.
	CreateIfAbsent(ctx context.Context, entity *T, conflictColumns ...string) (bool, error)
	Update(ctx context.Context, id snowflake.ID, values map[string]any) (bool, error)
	Delete(ctx context.Context, id snowflake.ID) (bool, error)
}
