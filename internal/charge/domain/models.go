package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Charge is one monthly rent bill. A contract has at most one charge per period.
type Charge struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	ContractID  snowflake.ID    `gorm:"not null;uniqueIndex:ux_charges_contract_period,priority:1" json:"contract_id"`
	Period      string          `gorm:"type:varchar(7);not null;uniqueIndex:ux_charges_contract_period,priority:2" json:"period"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	DueDate     time.Time       `gorm:"type:date;not null;index" json:"due_date"`
	IsPaid      bool            `gorm:"not null;default:false;index" json:"is_paid"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

func (c Charge) OwnerTenantID() snowflake.ID { return c.TenantID }

func (c *Charge) AssignTenant(tenantID snowflake.ID) { c.TenantID = tenantID }

// Describe returns the human label of a billing period.
func Describe(month, year int) string {
	return fmt.Sprintf("Alquiler %d/%d", month, year)
}
