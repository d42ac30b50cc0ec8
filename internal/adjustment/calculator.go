// Package adjustment computes index-linked rent changes.
package adjustment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	indexdomain "github.com/smallbiznis/rentledger/internal/economicindex/domain"
)

// ErrIndeterminate means the inputs cannot produce an amount. Callers skip
// the contract rather than guess.
var ErrIndeterminate = errors.New("adjustment_indeterminate")

var hundred = decimal.NewFromInt(100)

// Result is the outcome of one adjustment.
type Result struct {
	NewAmount     decimal.Decimal
	PercentChange decimal.Decimal
	IndexBase     decimal.Decimal
	IndexNow      decimal.Decimal
}

type Calculator struct {
	lookup indexdomain.Lookup
}

func NewCalculator(lookup indexdomain.Lookup) *Calculator {
	return &Calculator{lookup: lookup}
}

// Calculate returns the rent that applies from asOf.
//
// Fixed contracts, and contracts with an unrecognised type, keep their
// current amount. Indexed contracts scale the base amount by
// index(asOf)/index(anchor), and the percentage is measured against the same
// base so rounding never compounds.
func (c *Calculator) Calculate(ctx context.Context, contract *contractdomain.Contract, asOf time.Time) (Result, error) {
	if contract == nil {
		return Result{}, ErrIndeterminate
	}

	kind, indexed := indexKind(contract.AdjustmentType)
	if !indexed {
		return Result{
			NewAmount:     contract.EffectiveRent().Round(2),
			PercentChange: decimal.Zero,
		}, nil
	}

	anchor, ok := contract.Anchor()
	if !ok {
		return Result{}, fmt.Errorf("%w: missing anchor date", ErrIndeterminate)
	}
	base := contract.Base()
	if !base.IsPositive() {
		return Result{}, fmt.Errorf("%w: base amount %s", ErrIndeterminate, base)
	}

	indexBase, err := c.value(ctx, anchor, kind)
	if err != nil {
		return Result{}, err
	}
	if !indexBase.IsPositive() {
		return Result{}, fmt.Errorf("%w: index base %s", ErrIndeterminate, indexBase)
	}
	indexNow, err := c.value(ctx, asOf, kind)
	if err != nil {
		return Result{}, err
	}

	newAmount := base.Mul(indexNow).Div(indexBase).Round(2)
	pct := newAmount.Div(base).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2)

	return Result{
		NewAmount:     newAmount,
		PercentChange: pct,
		IndexBase:     indexBase,
		IndexNow:      indexNow,
	}, nil
}

func (c *Calculator) value(ctx context.Context, date time.Time, kind indexdomain.Kind) (decimal.Decimal, error) {
	if c.lookup == nil {
		return decimal.Zero, fmt.Errorf("%w: no index lookup", ErrIndeterminate)
	}
	v, err := c.lookup.ValueOnOrBefore(ctx, date, kind)
	if err != nil {
		if errors.Is(err, indexdomain.ErrIndexNotFound) {
			return decimal.Zero, fmt.Errorf("%w: no %s value on or before %s", ErrIndeterminate, kind, date.Format(time.DateOnly))
		}
		return decimal.Zero, err
	}
	return v, nil
}

func indexKind(t contractdomain.AdjustmentType) (indexdomain.Kind, bool) {
	switch t {
	case contractdomain.AdjustmentIndexA:
		return indexdomain.KindIndexA, true
	case contractdomain.AdjustmentIndexB:
		return indexdomain.KindIndexB, true
	}
	return "", false
}
