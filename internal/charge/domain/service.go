package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"gorm.io/gorm"
)

type ListChargeRequest struct {
	pagination.Pagination
	Period string `form:"period"`
	IsPaid *bool  `form:"is_paid"`
}

type ListChargeResponse struct {
	pagination.PageInfo
	Charges []Charge `json:"charges"`
}

type Service interface {
	// Generate creates the period's charge for every active contract of the
	// tenant in its own transaction. It returns how many charges were created.
	Generate(ctx context.Context, tenantID snowflake.ID, month, year int) (int, error)
	GenerateTx(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, month, year int) (int, error)

	List(ctx context.Context, scope tenantctx.Scope, req ListChargeRequest) (ListChargeResponse, error)
	Get(ctx context.Context, scope tenantctx.Scope, id snowflake.ID) (*Charge, error)
	Receipt(ctx context.Context, scope tenantctx.Scope, id snowflake.ID) ([]byte, error)

	// FindForSettlement locates a charge by id regardless of tenant and locks
	// it for the rest of tx.
	FindForSettlement(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Charge, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID, paidAt time.Time) (bool, error)
}

var (
	ErrChargeNotFound   = errors.New("charge_not_found")
	ErrChargeNotPaid    = errors.New("charge_not_paid")
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
