package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Kind selects one of the published series.
type Kind string

const (
	KindIndexA Kind = "INDEX_A"
	KindIndexB Kind = "INDEX_B"
)

// Column maps a kind to its value column.
func (k Kind) Column() (string, bool) {
	switch k {
	case KindIndexA:
		return "index_a_value", true
	case KindIndexB:
		return "index_b_value", true
	}
	return "", false
}

// EconomicIndex holds the published values of one day. Rows are global and
// never rewritten once stored.
type EconomicIndex struct {
	ID          snowflake.ID        `gorm:"primaryKey" json:"id"`
	IndexDate   time.Time           `gorm:"type:date;not null;uniqueIndex:ux_economic_indices_date" json:"index_date"`
	IndexAValue decimal.NullDecimal `gorm:"type:numeric(18,6)" json:"index_a_value"`
	IndexBValue decimal.NullDecimal `gorm:"type:numeric(18,6)" json:"index_b_value"`
	CreatedAt   time.Time           `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (EconomicIndex) TableName() string { return "economic_indices" }

// Point is one day of fetched or imported index data.
type Point struct {
	Date   time.Time
	IndexA decimal.NullDecimal
	IndexB decimal.NullDecimal
}

// Series maps a UTC date to a value.
type Series map[time.Time]decimal.Decimal

type Lookup interface {
	// ValueOnOrBefore returns the latest non-null value of kind dated on or
	// before date. It never returns a later value.
	ValueOnOrBefore(ctx context.Context, date time.Time, kind Kind) (decimal.Decimal, error)
}

type Service interface {
	Lookup
	WithTx(tx *gorm.DB) Lookup
	Append(ctx context.Context, points []Point) (int, error)
	Sync(ctx context.Context) (int, error)
}

// Source fetches a published series.
type Source interface {
	Fetch(ctx context.Context, kind Kind) (Series, error)
}

var (
	ErrIndexNotFound = errors.New("index_not_found")
	ErrInvalidKind   = errors.New("invalid_index_kind")
	ErrSourceFailed  = errors.New("index_source_failed")
)
