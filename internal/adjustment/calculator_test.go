package adjustment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	contractdomain "github.com/smallbiznis/rentledger/internal/contract/domain"
	indexdomain "github.com/smallbiznis/rentledger/internal/economicindex/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup map[string]decimal.Decimal

func (s stubLookup) ValueOnOrBefore(_ context.Context, date time.Time, kind indexdomain.Kind) (decimal.Decimal, error) {
	v, ok := s[string(kind)+"@"+date.Format(time.DateOnly)]
	if !ok {
		return decimal.Zero, indexdomain.ErrIndexNotFound
	}
	return v, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func indexedContract() *contractdomain.Contract {
	return &contractdomain.Contract{
		StartDate:      day(2024, time.January, 1),
		MonthlyRent:    decimal.NewFromInt(80000),
		BaseAmount:     decimal.NewNullDecimal(decimal.NewFromInt(100000)),
		AdjustmentType: contractdomain.AdjustmentIndexA,
	}
}

func TestCalculateIndexRatio(t *testing.T) {
	lookup := stubLookup{
		"INDEX_A@2024-01-01": decimal.NewFromInt(100),
		"INDEX_A@2025-01-01": decimal.NewFromInt(150),
	}
	res, err := NewCalculator(lookup).Calculate(context.Background(), indexedContract(), day(2025, time.January, 1))
	require.NoError(t, err)

	assert.Equal(t, "150000.00", res.NewAmount.StringFixed(2))
	assert.Equal(t, "50.00", res.PercentChange.StringFixed(2))
}

func TestCalculateUsesLastAdjustmentAsAnchor(t *testing.T) {
	contract := indexedContract()
	last := day(2024, time.July, 1)
	contract.LastAdjustmentDate = &last
	contract.AdjustmentType = contractdomain.AdjustmentIndexB

	lookup := stubLookup{
		"INDEX_B@2024-07-01": decimal.RequireFromString("3"),
		"INDEX_B@2025-01-01": decimal.RequireFromString("3.5"),
	}
	res, err := NewCalculator(lookup).Calculate(context.Background(), contract, day(2025, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, "116666.67", res.NewAmount.StringFixed(2))
	assert.Equal(t, "16.67", res.PercentChange.StringFixed(2))
}

func TestCalculateFixedKeepsCurrentRent(t *testing.T) {
	contract := indexedContract()
	contract.AdjustmentType = contractdomain.AdjustmentFixed
	contract.CurrentRent = decimal.NewNullDecimal(decimal.NewFromInt(90000))

	res, err := NewCalculator(nil).Calculate(context.Background(), contract, day(2025, time.January, 1))
	require.NoError(t, err)
	assert.True(t, res.NewAmount.Equal(decimal.NewFromInt(90000)))
	assert.True(t, res.PercentChange.IsZero())

	contract.AdjustmentType = "UNKNOWN"
	contract.CurrentRent = decimal.NullDecimal{}
	res, err = NewCalculator(nil).Calculate(context.Background(), contract, day(2025, time.January, 1))
	require.NoError(t, err)
	assert.True(t, res.NewAmount.Equal(decimal.NewFromInt(80000)))
}

func TestCalculateIndeterminate(t *testing.T) {
	full := stubLookup{
		"INDEX_A@2024-01-01": decimal.NewFromInt(100),
		"INDEX_A@2025-01-01": decimal.NewFromInt(150),
	}
	cases := []struct {
		name     string
		lookup   stubLookup
		contract func() *contractdomain.Contract
	}{
		{"missing_now", stubLookup{"INDEX_A@2024-01-01": decimal.NewFromInt(100)}, indexedContract},
		{"missing_base", stubLookup{"INDEX_A@2025-01-01": decimal.NewFromInt(150)}, indexedContract},
		{"zero_index_base", stubLookup{
			"INDEX_A@2024-01-01": decimal.Zero,
			"INDEX_A@2025-01-01": decimal.NewFromInt(150),
		}, indexedContract},
		{"no_anchor", full, func() *contractdomain.Contract {
			c := indexedContract()
			c.StartDate = time.Time{}
			return c
		}},
		{"zero_base", full, func() *contractdomain.Contract {
			c := indexedContract()
			c.BaseAmount = decimal.NewNullDecimal(decimal.Zero)
			return c
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCalculator(tc.lookup).Calculate(context.Background(), tc.contract(), day(2025, time.January, 1))
			assert.ErrorIs(t, err, ErrIndeterminate)
		})
	}
}

type failingLookup struct{}

func (failingLookup) ValueOnOrBefore(context.Context, time.Time, indexdomain.Kind) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("connection reset")
}

func TestCalculateSurfacesStorageErrors(t *testing.T) {
	_, err := NewCalculator(failingLookup{}).Calculate(context.Background(), indexedContract(), day(2025, time.January, 1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIndeterminate))
}
