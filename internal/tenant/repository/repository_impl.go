package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/internal/tenant/domain"
	"github.com/smallbiznis/rentledger/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, tenant *domain.Tenant) error {
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	return r.find(r.db.WithContext(ctx), id)
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	return r.find(db.ForUpdate(r.db.WithContext(ctx)), id)
}

func (r *repository) find(stmt *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := stmt.Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) ListActive(ctx context.Context) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id asc").
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repository) UpdatePlan(ctx context.Context, id snowflake.ID, plan domain.Plan) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE tenants SET plan = ?, updated_at = ? WHERE id = ?`,
		plan,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) DeleteOwnedRows(ctx context.Context, id snowflake.ID) (domain.PurgeCounts, error) {
	var counts domain.PurgeCounts
	steps := []struct {
		stmt  string
		count *int64
	}{
		{`DELETE FROM payments WHERE tenant_id = ?`, &counts.Payments},
		{`DELETE FROM charges WHERE tenant_id = ?`, &counts.Charges},
		{`DELETE FROM contracts WHERE tenant_id = ?`, &counts.Contracts},
		{`DELETE FROM properties WHERE tenant_id = ?`, &counts.Properties},
		{`DELETE FROM people WHERE tenant_id = ?`, &counts.People},
	}
	for _, step := range steps {
		res := r.db.WithContext(ctx).Exec(step.stmt, id)
		if res.Error != nil {
			return counts, res.Error
		}
		*step.count = res.RowsAffected
	}
	return counts, nil
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`DELETE FROM tenants WHERE id = ?`, id)
	return res.RowsAffected, res.Error
}
