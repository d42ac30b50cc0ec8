package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	TemplateContractExpiration = "contract_expiration"
	TemplateRentAdjustment     = "rent_adjustment"
)

// BillingConfig is the hot-reloadable billing policy.
type BillingConfig struct {
	ExpirationNoticeDays     int               `mapstructure:"expirationNoticeDays"`
	ChargeDueDay             int               `mapstructure:"chargeDueDay"`
	DefaultAdjustmentPeriod  int               `mapstructure:"defaultAdjustmentPeriod"`
	Timezone                 string            `mapstructure:"timezone"`
	CatchUpMissedAdjustments bool              `mapstructure:"catchUpMissedAdjustments"`
	GenerateCharges          bool              `mapstructure:"generateCharges"`
	SyncIndices              bool              `mapstructure:"syncIndices"`
	PlanPrices               map[string]string `mapstructure:"planPrices"`
	Templates                map[string]string `mapstructure:"templates"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		ExpirationNoticeDays:    15,
		ChargeDueDay:            10,
		DefaultAdjustmentPeriod: 12,
		Timezone:                "UTC",
		GenerateCharges:         true,
		PlanPrices: map[string]string{
			"basic":   "5000",
			"premium": "15000",
		},
		Templates: map[string]string{
			TemplateContractExpiration: "Hola {{.PersonName}}, te recordamos que tu contrato de alquiler vence el {{.EndDate}}. " +
				"Monto actual: ${{.CurrentAmount}}. Por favor contacta a la inmobiliaria para renovación.",
			TemplateRentAdjustment: "Hola {{.PersonName}}, te informamos el ajuste de tu alquiler. " +
				"Monto anterior: ${{.OldAmount}}. Nuevo monto: ${{.NewAmount}}. " +
				"Queda efectivo según lo acordado en contrato.",
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c BillingConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PlanPrice returns the configured price of plan, if any.
func (c BillingConfig) PlanPrice(plan string) (decimal.Decimal, bool) {
	raw, ok := c.PlanPrices[strings.ToLower(strings.TrimSpace(plan))]
	if !ok {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/rentledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RENTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.expirationNoticeDays", defaults.ExpirationNoticeDays)
	v.SetDefault("billing.chargeDueDay", defaults.ChargeDueDay)
	v.SetDefault("billing.defaultAdjustmentPeriod", defaults.DefaultAdjustmentPeriod)
	v.SetDefault("billing.timezone", defaults.Timezone)
	v.SetDefault("billing.generateCharges", defaults.GenerateCharges)
	v.SetDefault("billing.planPrices", defaults.PlanPrices)
	v.SetDefault("billing.templates", defaults.Templates)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed policy.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	return h.current.Load().(BillingConfig)
}

func (c BillingConfig) withDefaults() BillingConfig {
	defaults := DefaultBillingConfig()
	if c.ExpirationNoticeDays <= 0 {
		c.ExpirationNoticeDays = defaults.ExpirationNoticeDays
	}
	if c.ChargeDueDay <= 0 {
		c.ChargeDueDay = defaults.ChargeDueDay
	}
	if c.DefaultAdjustmentPeriod <= 0 {
		c.DefaultAdjustmentPeriod = defaults.DefaultAdjustmentPeriod
	}
	if len(c.PlanPrices) == 0 {
		c.PlanPrices = defaults.PlanPrices
	}
	if c.Templates == nil {
		c.Templates = map[string]string{}
	}
	for name, body := range defaults.Templates {
		if strings.TrimSpace(c.Templates[name]) == "" {
			c.Templates[name] = body
		}
	}
	return c
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.ChargeDueDay < 1 || cfg.ChargeDueDay > 31 {
		return errors.New("billing.chargeDueDay must be between 1 and 31")
	}
	if cfg.ExpirationNoticeDays < 1 {
		return errors.New("billing.expirationNoticeDays must be positive")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone)); err != nil {
		return fmt.Errorf("billing.timezone: %w", err)
	}
	for plan, raw := range cfg.PlanPrices {
		if _, err := decimal.NewFromString(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("billing.planPrices.%s: %w", plan, err)
		}
	}
	return nil
}
