package notification

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpirationData feeds the contract_expiration template.
type ExpirationData struct {
	PersonName    string
	EndDate       string
	CurrentAmount string
}

func NewExpirationData(person string, endDate time.Time, current decimal.Decimal) ExpirationData {
	return ExpirationData{
		PersonName:    person,
		EndDate:       FormatDate(endDate),
		CurrentAmount: FormatAmount(current),
	}
}

// AdjustmentData feeds the rent_adjustment template.
type AdjustmentData struct {
	PersonName string
	OldAmount  string
	NewAmount  string
	Percentage string
}

func NewAdjustmentData(person string, oldAmount, newAmount, pct decimal.Decimal) AdjustmentData {
	return AdjustmentData{
		PersonName: person,
		OldAmount:  FormatAmount(oldAmount),
		NewAmount:  FormatAmount(newAmount),
		Percentage: pct.StringFixed(2),
	}
}
