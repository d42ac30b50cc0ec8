package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/rentledger/internal/tenant/domain"
	"gorm.io/gorm"
)

const masterTenantName = "Master"

// EnsureMasterTenant creates the operator tenant on first boot. It is safe to
// call on every start.
func EnsureMasterTenant(ctx context.Context, db *gorm.DB, node *snowflake.Node) (tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	if db == nil {
		return tenant, errors.New("seed database handle is required")
	}
	if node == nil {
		return tenant, errors.New("seed id generator is required")
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("slug = ?", tenantdomain.MasterSlug).First(&tenant).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		tenant = tenantdomain.Tenant{
			ID:        node.Generate(),
			Name:      masterTenantName,
			Slug:      tenantdomain.MasterSlug,
			IsActive:  true,
			Plan:      tenantdomain.PlanPremium,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Create(&tenant).Error
	})
	return tenant, err
}
