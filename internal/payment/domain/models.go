package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Method string

const (
	MethodMercadoPago        Method = "MERCADOPAGO"
	MethodMercadoPagoUpgrade Method = "MERCADOPAGO_UPGRADE"
)

// Payment is a settled gateway transaction. ExternalTransactionID is
// globally unique and is the reconciliation idempotency key.
type Payment struct {
	ID                    snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID              snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	ChargeID              *snowflake.ID   `json:"charge_id,omitempty" gorm:"index"`
	Amount                decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Method                Method          `json:"method" gorm:"type:text;not null"`
	ExternalTransactionID string          `json:"external_transaction_id" gorm:"type:text;not null;uniqueIndex:ux_payments_external_transaction_id"`
	RawPayload            datatypes.JSON  `json:"raw_payload" gorm:"type:jsonb"`
	PaidAt                time.Time       `json:"paid_at" gorm:"not null"`
	CreatedAt             time.Time       `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) OwnerTenantID() snowflake.ID { return p.TenantID }

func (p *Payment) AssignTenant(tenantID snowflake.ID) { p.TenantID = tenantID }

const StatusApproved = "approved"

// GatewayPayment is the gateway's view of a payment.
type GatewayPayment struct {
	ID                string
	Status            string
	ExternalReference string
	TransactionAmount decimal.Decimal
	ApprovedAt        *time.Time
	Raw               []byte
}

func (p GatewayPayment) Approved() bool {
	return strings.EqualFold(strings.TrimSpace(p.Status), StatusApproved)
}

// PreferenceRequest describes a single-item checkout.
type PreferenceRequest struct {
	Title             string
	Amount            decimal.Decimal
	PayerEmail        string
	ExternalReference string
}

// Preference is a created checkout; InitPoint is the URL the payer opens.
type Preference struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	ExternalReference string `json:"external_reference"`
}

// ParseMethod normalizes a method filter; ok is false for unknown methods.
func ParseMethod(raw string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case MethodMercadoPago, MethodMercadoPagoUpgrade:
		return m, true
	}
	return "", false
}

type ReferenceKind string

const (
	ReferenceUnknown ReferenceKind = ""
	ReferenceCharge  ReferenceKind = "charge"
	ReferenceUpgrade ReferenceKind = "upgrade"
)

// Reference is a parsed external_reference: "charge_<id>" or
// "upgrade_<tenantID>_<plan>".
type Reference struct {
	Kind     ReferenceKind
	ChargeID snowflake.ID
	TenantID snowflake.ID
	Plan     string
	Raw      string
}

// ChargeReference is the external_reference of a charge checkout.
func ChargeReference(chargeID snowflake.ID) string {
	return string(ReferenceCharge) + "_" + chargeID.String()
}

// UpgradeReference is the external_reference of a plan upgrade checkout.
func UpgradeReference(tenantID snowflake.ID, plan string) string {
	return string(ReferenceUpgrade) + "_" + tenantID.String() + "_" + strings.ToLower(strings.TrimSpace(plan))
}

func ParseReference(raw string) Reference {
	raw = strings.TrimSpace(raw)
	ref := Reference{Raw: raw}
	parts := strings.Split(raw, "_")

	switch {
	case len(parts) == 2 && parts[0] == string(ReferenceCharge):
		id, err := snowflake.ParseString(parts[1])
		if err != nil || id <= 0 {
			return ref
		}
		ref.Kind = ReferenceCharge
		ref.ChargeID = id
	case len(parts) == 3 && parts[0] == string(ReferenceUpgrade):
		id, err := snowflake.ParseString(parts[1])
		if err != nil || id <= 0 || strings.TrimSpace(parts[2]) == "" {
			return ref
		}
		ref.Kind = ReferenceUpgrade
		ref.TenantID = id
		ref.Plan = strings.ToLower(strings.TrimSpace(parts[2]))
	}
	return ref
}
