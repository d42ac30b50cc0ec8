package notification

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a whole-peso amount with "." as thousands separator,
// e.g. 1234567.89 becomes "1.234.568".
func FormatAmount(amount decimal.Decimal) string {
	raw := amount.Round(0).String()
	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	var b strings.Builder
	lead := len(raw) % 3
	if lead > 0 {
		b.WriteString(raw[:lead])
	}
	for i := lead; i < len(raw); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(raw[i : i+3])
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}

// FormatDate renders dd/mm/yyyy.
func FormatDate(date time.Time) string {
	if date.IsZero() {
		return ""
	}
	return date.Format("02/01/2006")
}
