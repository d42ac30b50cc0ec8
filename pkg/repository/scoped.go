package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/pkg/db"
	"github.com/smallbiznis/rentledger/pkg/db/option"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ownedPtr[T any] interface {
	*T
	TenantOwned
}

type scopedStore[T any, P ownedPtr[T]] struct {
	db     *gorm.DB
	log    *zap.Logger
	scope  tenantctx.Scope
	entity string
}

// ForTenant returns a repository that can only see and write rows owned by
// the scope's tenant. An unbound scope reads as empty and refuses writes.
func ForTenant[T any, P ownedPtr[T]](db *gorm.DB, log *zap.Logger, scope tenantctx.Scope) ScopedRepository[T] {
	if log == nil {
		log = zap.L()
	}
	var zero T
	return &scopedStore[T, P]{
		db:     db,
		log:    log.Named("tenant_scope"),
		scope:  scope,
		entity: fmt.Sprintf("%T", zero),
	}
}

func (r *scopedStore[T, P]) WithTrx(tx *gorm.DB) ScopedRepository[T] {
	return &scopedStore[T, P]{db: tx, log: r.log, scope: r.scope, entity: r.entity}
}

func (r *scopedStore[T, P]) Scope() tenantctx.Scope {
	return r.scope
}

func (r *scopedStore[T, P]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("find")
		return []*T{}, nil
	}
	r.checkFilter(filter, tenantID, "find")

	var result []*T
	err := r.query(ctx, tenantID, filter, opts...).Find(&result).Error
	return result, err
}

func (r *scopedStore[T, P]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("find_one")
		return nil, nil
	}
	r.checkFilter(filter, tenantID, "find_one")

	var result T
	err := r.query(ctx, tenantID, filter, opts...).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *scopedStore[T, P]) FindByID(ctx context.Context, id snowflake.ID) (*T, error) {
	return r.FindOne(ctx, nil, option.WithWhere("id = ?", id))
}

func (r *scopedStore[T, P]) Count(ctx context.Context, filter *T) (int64, error) {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("count")
		return 0, nil
	}
	r.checkFilter(filter, tenantID, "count")

	var count int64
	err := r.query(ctx, tenantID, filter).Count(&count).Error
	return count, err
}

func (r *scopedStore[T, P]) Create(ctx context.Context, entity *T) error {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("create")
		return ErrScopeUnset
	}
	owned := P(entity)
	if supplied := owned.OwnerTenantID(); supplied != 0 && supplied != tenantID {
		r.reportViolation("create", tenantID, supplied)
	}
	owned.AssignTenant(tenantID)
	return r.db.WithContext(ctx).Create(entity).Error
}

func (r *scopedStore[T, P]) CreateIfAbsent(ctx context.Context, entity *T, conflictColumns ...string) (bool, error) {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("create_if_absent")
		return false, ErrScopeUnset
	}
	owned := P(entity)
	if supplied := owned.OwnerTenantID(); supplied != 0 && supplied != tenantID {
		r.reportViolation("create_if_absent", tenantID, supplied)
	}
	owned.AssignTenant(tenantID)

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, name := range conflictColumns {
		columns = append(columns, clause.Column{Name: name})
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: columns, DoNothing: true}).
		Create(entity)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *scopedStore[T, P]) Update(ctx context.Context, id snowflake.ID, values map[string]any) (bool, error) {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("update")
		return false, nil
	}
	if supplied, exists := values["tenant_id"]; exists {
		r.log.Error("tenant_scope.violation",
			zap.String("op", "update"),
			zap.String("entity", r.entity),
			zap.String("scope_tenant_id", tenantID.String()),
			zap.Any("supplied_tenant_id", supplied),
		)
		delete(values, "tenant_id")
	}
	if len(values) == 0 {
		return false, nil
	}

	res := r.db.WithContext(ctx).Model(new(T)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *scopedStore[T, P]) Delete(ctx context.Context, id snowflake.ID) (bool, error) {
	tenantID, ok := r.scope.TenantID()
	if !ok {
		r.reportUnbound("delete")
		return false, nil
	}
	res := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(new(T))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *scopedStore[T, P]) query(ctx context.Context, tenantID snowflake.ID, filter *T, opts ...option.QueryOption) *gorm.DB {
	stmt := r.db.WithContext(ctx).Model(new(T)).Where("tenant_id = ?", tenantID)
	if filter != nil {
		stmt = stmt.Where(filter)
	}
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}

func (r *scopedStore[T, P]) checkFilter(filter *T, tenantID snowflake.ID, op string) {
	if filter == nil {
		return
	}
	if supplied := P(filter).OwnerTenantID(); supplied != 0 && supplied != tenantID {
		r.reportViolation(op, tenantID, supplied)
	}
}

func (r *scopedStore[T, P]) reportUnbound(op string) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("entity", r.entity),
		zap.String("origin", string(r.scope.Origin())),
	}
	if r.scope.Origin() == tenantctx.OriginRequest {
		r.log.Warn("tenant_scope.unset", fields...)
		return
	}
	r.log.Error("tenant_scope.unset", fields...)
}

func (r *scopedStore[T, P]) reportViolation(op string, scoped, supplied snowflake.ID) {
	r.log.Error("tenant_scope.violation",
		zap.String("op", op),
		zap.String("entity", r.entity),
		zap.String("origin", string(r.scope.Origin())),
		zap.String("scope_tenant_id", scoped.String()),
		zap.String("supplied_tenant_id", supplied.String()),
	)
}
