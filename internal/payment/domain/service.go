package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/pkg/db/pagination"
	"github.com/smallbiznis/rentledger/pkg/tenantctx"
	"gorm.io/gorm"
)

type Repository interface {
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Payment, error)
}

// Gateway fetches the authoritative state of a payment.
type Gateway interface {
	Name() string
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
}

// Checkout opens a hosted payment page for an external reference.
type Checkout interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
}

// Reconciler applies an approved gateway payment to the ledger of charges
// and plan tiers, at most once per external transaction id.
type Reconciler interface {
	Reconcile(ctx context.Context, paymentID string) error
}

type ListPaymentRequest struct {
	pagination.Pagination
	Method string `form:"method"`
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	Reconciler

	// ChargePreference opens a checkout for an unpaid charge of the scope.
	ChargePreference(ctx context.Context, scope tenantctx.Scope, chargeID snowflake.ID) (*Preference, error)
	// UpgradePreference opens a checkout that moves the scope's tenant to a
	// higher plan once the payment is reconciled.
	UpgradePreference(ctx context.Context, scope tenantctx.Scope, plan string) (*Preference, error)
	List(ctx context.Context, scope tenantctx.Scope, req ListPaymentRequest) (ListPaymentResponse, error)
	// ExportMovements writes the scope's income movements as CSV.
	ExportMovements(ctx context.Context, scope tenantctx.Scope, w io.Writer) error
}

// Queue hands webhook deliveries to background workers.
type Queue interface {
	Enqueue(paymentID string) bool
}

var (
	ErrInvalidPaymentID   = errors.New("invalid_payment_id")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrPaymentNotFound    = errors.New("gateway_payment_not_found")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	ErrInvalidReference   = errors.New("invalid_external_reference")
	ErrChargeNotFound     = errors.New("charge_not_found")
	ErrChargeAlreadyPaid  = errors.New("charge_already_paid")
	ErrPlanNotUpgrade     = errors.New("plan_not_upgrade")
	ErrInvalidMethod      = errors.New("invalid_method")
)
