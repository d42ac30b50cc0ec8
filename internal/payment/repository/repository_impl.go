package repository

import (
	"context"

	"github.com/smallbiznis/rentledger/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, charge_id, amount, method, external_transaction_id,
			raw_payload, paid_at, created_at
		 FROM payments
		 WHERE external_transaction_id = ?
		 LIMIT 1`,
		externalID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
