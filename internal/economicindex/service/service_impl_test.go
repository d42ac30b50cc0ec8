package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentledger/internal/economicindex/domain"
	indexservice "github.com/smallbiznis/rentledger/internal/economicindex/service"
	"github.com/smallbiznis/rentledger/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSource struct {
	series map[domain.Kind]domain.Series
	errs   map[domain.Kind]error
}

func (f fakeSource) Fetch(_ context.Context, kind domain.Kind) (domain.Series, error) {
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return f.series[kind], nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newService(t *testing.T, source domain.Source) (domain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &domain.EconomicIndex{})
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	return indexservice.NewService(indexservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Source: source,
	}), db
}

func TestValueOnOrBeforeFallsBackToPriorDay(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, []domain.Point{
		{Date: day(2024, time.March, 7), IndexA: decimal.NewNullDecimal(decimal.RequireFromString("12.5"))},
		{Date: day(2024, time.March, 12), IndexA: decimal.NewNullDecimal(decimal.RequireFromString("13.1"))},
	})
	require.NoError(t, err)

	got, err := svc.ValueOnOrBefore(ctx, day(2024, time.March, 10), domain.KindIndexA)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("12.5")), "got %s", got)

	exact, err := svc.ValueOnOrBefore(ctx, day(2024, time.March, 12), domain.KindIndexA)
	require.NoError(t, err)
	assert.True(t, exact.Equal(decimal.RequireFromString("13.1")))
}

func TestValueOnOrBeforeNeverReturnsFutureOrZero(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, []domain.Point{
		{Date: day(2024, time.March, 12), IndexA: decimal.NewNullDecimal(decimal.NewFromInt(13))},
	})
	require.NoError(t, err)

	_, err = svc.ValueOnOrBefore(ctx, day(2024, time.March, 11), domain.KindIndexA)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	_, err = svc.ValueOnOrBefore(ctx, day(2024, time.March, 12), domain.KindIndexB)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	_, err = svc.ValueOnOrBefore(ctx, day(2024, time.March, 12), domain.Kind("CPI"))
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestAppendNeverOverwrites(t *testing.T) {
	svc, db := newService(t, nil)
	ctx := context.Background()

	first, err := svc.Append(ctx, []domain.Point{
		{Date: day(2024, time.April, 1), IndexA: decimal.NewNullDecimal(decimal.NewFromInt(10))},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := svc.Append(ctx, []domain.Point{
		{Date: day(2024, time.April, 1), IndexA: decimal.NewNullDecimal(decimal.NewFromInt(99))},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	var count int64
	require.NoError(t, db.Model(&domain.EconomicIndex{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	got, err := svc.ValueOnOrBefore(ctx, day(2024, time.April, 1), domain.KindIndexA)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(10)))
}

func TestSyncMergesSeriesAndSkipsFailedSource(t *testing.T) {
	source := fakeSource{
		series: map[domain.Kind]domain.Series{
			domain.KindIndexA: {
				day(2024, time.May, 1): decimal.RequireFromString("20.25"),
				day(2024, time.May, 2): decimal.RequireFromString("20.30"),
			},
		},
		errs: map[domain.Kind]error{domain.KindIndexB: errors.New("timeout")},
	}
	svc, _ := newService(t, source)
	ctx := context.Background()

	inserted, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	again, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestSyncFailsWhenEverySeriesFails(t *testing.T) {
	boom := errors.New("unreachable")
	svc, _ := newService(t, fakeSource{errs: map[domain.Kind]error{
		domain.KindIndexA: boom,
		domain.KindIndexB: boom,
	}})

	_, err := svc.Sync(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceFailed)
}
