package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"gorm.io/gorm"
)

type ListContractRequest struct {
	pagination.Pagination
	Status Status
}

type ListContractResponse struct {
	pagination.PageInfo
	Contracts []Contract `json:"contracts"`
}

// UpdateContractCommand is a partial update. Nil fields are left untouched.
type UpdateContractCommand struct {
	EndDate                *time.Time
	MonthlyRent            *decimal.Decimal
	CurrentRent            *decimal.Decimal
	BaseAmount             *decimal.Decimal
	AdjustmentType         *AdjustmentType
	AdjustmentPeriodMonths *int
	Status                 *Status
	ExpirationNotified     *bool
}

// Contact bundles what a notice needs about a contract.
type Contact struct {
	Person   *Person
	Property *Property
}

type Service interface {
	List(ctx context.Context, scope tenantctx.Scope, req ListContractRequest) (ListContractResponse, error)
	Get(ctx context.Context, scope tenantctx.Scope, id snowflake.ID) (*Contract, error)
	Update(ctx context.Context, scope tenantctx.Scope, id snowflake.ID, cmd UpdateContractCommand) (*Contract, error)

	ListActive(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope) ([]*Contract, error)
	ApplyAdjustment(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID, amount decimal.Decimal, on time.Time) error
	MarkExpirationNotified(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, id snowflake.ID) error
	Contact(ctx context.Context, tx *gorm.DB, scope tenantctx.Scope, contract *Contract) (Contact, error)
}

var (
	ErrContractNotFound  = errors.New("contract_not_found")
	ErrInvalidAdjustment = errors.New("invalid_adjustment_type")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidPeriod     = errors.New("invalid_adjustment_period")
	ErrInvalidEndDate    = errors.New("invalid_end_date")
	ErrEmptyUpdate       = errors.New("empty_update")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
