package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type AdjustmentType string

const (
	AdjustmentFixed  AdjustmentType = "FIXED"
	AdjustmentIndexA AdjustmentType = "INDEX_A"
	AdjustmentIndexB AdjustmentType = "INDEX_B"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentFixed, AdjustmentIndexA, AdjustmentIndexB:
		return true
	}
	return false
}

// Indexed reports whether t follows an economic index.
func (t AdjustmentType) Indexed() bool {
	return t == AdjustmentIndexA || t == AdjustmentIndexB
}

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusExpired    Status = "EXPIRED"
	StatusTerminated Status = "TERMINATED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusTerminated:
		return true
	}
	return false
}

const DefaultAdjustmentPeriodMonths = 12

// Contract is a lease between a tenant's client and one property.
// BaseAmount anchors the next adjustment; CurrentRent is what gets billed.
type Contract struct {
	ID                     snowflake.ID        `gorm:"primaryKey" json:"id"`
	TenantID               snowflake.ID        `gorm:"not null;index" json:"tenant_id"`
	PropertyID             snowflake.ID        `gorm:"not null;index" json:"property_id"`
	PersonID               snowflake.ID        `gorm:"not null;index" json:"person_id"`
	StartDate              time.Time           `gorm:"type:date;not null" json:"start_date"`
	EndDate                time.Time           `gorm:"type:date;not null" json:"end_date"`
	MonthlyRent            decimal.Decimal     `gorm:"type:numeric(18,2);not null" json:"monthly_rent"`
	CurrentRent            decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"current_rent"`
	BaseAmount             decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"base_amount"`
	AdjustmentType         AdjustmentType      `gorm:"type:text;not null;default:'FIXED'" json:"adjustment_type"`
	AdjustmentPeriodMonths int                 `gorm:"not null;default:12" json:"adjustment_period_months"`
	LastAdjustmentDate     *time.Time          `gorm:"type:date" json:"last_adjustment_date,omitempty"`
	ExpirationNotified     bool                `gorm:"not null;default:false" json:"expiration_notified"`
	Status                 Status              `gorm:"type:text;not null;default:'ACTIVE';index" json:"status"`
	CreatedAt              time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time           `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Contract) TableName() string { return "contracts" }

func (c Contract) OwnerTenantID() snowflake.ID { return c.TenantID }

func (c *Contract) AssignTenant(tenantID snowflake.ID) { c.TenantID = tenantID }

// EffectiveRent is the billed amount, falling back to the signed rent.
func (c Contract) EffectiveRent() decimal.Decimal {
	if c.CurrentRent.Valid {
		return c.CurrentRent.Decimal
	}
	return c.MonthlyRent
}

// Base is the adjustment base, falling back to the signed rent.
func (c Contract) Base() decimal.Decimal {
	if c.BaseAmount.Valid {
		return c.BaseAmount.Decimal
	}
	return c.MonthlyRent
}

// Anchor is the date the next adjustment is measured from.
func (c Contract) Anchor() (time.Time, bool) {
	if c.LastAdjustmentDate != nil && !c.LastAdjustmentDate.IsZero() {
		return *c.LastAdjustmentDate, true
	}
	if !c.StartDate.IsZero() {
		return c.StartDate, true
	}
	return time.Time{}, false
}

// Period returns the adjustment period in months.
func (c Contract) Period() int {
	if c.AdjustmentPeriodMonths <= 0 {
		return DefaultAdjustmentPeriodMonths
	}
	return c.AdjustmentPeriodMonths
}

// Person is the contact of a contract.
type Person struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	FullName  string       `gorm:"type:text;not null" json:"full_name"`
	Phone     *string      `gorm:"type:text" json:"phone,omitempty"`
	Email     *string      `gorm:"type:text" json:"email,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Person) TableName() string { return "people" }

func (p Person) OwnerTenantID() snowflake.ID { return p.TenantID }

func (p *Person) AssignTenant(tenantID snowflake.ID) { p.TenantID = tenantID }

func (p Person) PhoneNumber() string {
	if p.Phone == nil {
		return ""
	}
	return strings.TrimSpace(*p.Phone)
}

func (p Person) EmailAddress() string {
	if p.Email == nil {
		return ""
	}
	return strings.TrimSpace(*p.Email)
}

type Property struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Address   string       `gorm:"type:text;not null" json:"address"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Property) TableName() string { return "properties" }

func (p Property) OwnerTenantID() snowflake.ID { return p.TenantID }

func (p *Property) AssignTenant(tenantID snowflake.ID) { p.TenantID = tenantID }
