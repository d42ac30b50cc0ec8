package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBillingConfigIsValid(t *testing.T) {
	cfg := DefaultBillingConfig()
	require.NoError(t, validateBillingConfig(cfg))
	assert.Equal(t, 15, cfg.ExpirationNoticeDays)
	assert.False(t, cfg.CatchUpMissedAdjustments)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestPlanPrice(t *testing.T) {
	cfg := DefaultBillingConfig()

	price, ok := cfg.PlanPrice("Premium")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(15000)))

	_, ok = cfg.PlanPrice("lite")
	assert.False(t, ok)
}

func TestWithDefaultsFillsMissingTemplates(t *testing.T) {
	cfg := BillingConfig{
		Timezone:  "UTC",
		Templates: map[string]string{TemplateRentAdjustment: "custom {{.NewAmount}}"},
	}.withDefaults()

	assert.Equal(t, "custom {{.NewAmount}}", cfg.Templates[TemplateRentAdjustment])
	assert.NotEmpty(t, cfg.Templates[TemplateContractExpiration])
	assert.Equal(t, 10, cfg.ChargeDueDay)
}

func TestValidateRejectsBadDueDay(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.ChargeDueDay = 40
	assert.Error(t, validateBillingConfig(cfg))
}

func TestStaticHolder(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.ChargeDueDay = 5
	holder := NewStaticBillingConfigHolder(cfg)
	assert.Equal(t, 5, holder.Get().ChargeDueDay)

	var nilHolder *BillingConfigHolder
	assert.Equal(t, 10, nilHolder.Get().ChargeDueDay)
}
