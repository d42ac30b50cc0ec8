package billingcycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"non_leap_february", date(2023, time.January, 31), 1, date(2023, time.February, 28)},
		{"leap_february", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"twelve_months", date(2024, time.February, 29), 12, date(2025, time.February, 28)},
		{"across_year", date(2024, time.November, 30), 3, date(2025, time.February, 28)},
		{"plain", date(2024, time.March, 15), 6, date(2024, time.September, 15)},
		{"negative", date(2024, time.March, 31), -1, date(2024, time.February, 29)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AddMonths(tc.start, tc.months)
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want.Format(time.DateOnly), got.Format(time.DateOnly))
			}
		})
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)

	// 01:30 UTC is still the previous evening in Buenos Aires.
	instant := time.Date(2024, time.May, 2, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, date(2024, time.May, 1), DateOf(instant, loc))
	assert.Equal(t, date(2024, time.May, 2), DateOf(instant, nil))
}

func TestPeriod(t *testing.T) {
	p, err := Period(3, 2025)
	require.NoError(t, err)
	assert.Equal(t, "2025-03", p)

	_, err = Period(13, 2025)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestDueDateClamps(t *testing.T) {
	assert.Equal(t, date(2025, time.February, 28), DueDate(2, 2025, 31))
	assert.Equal(t, date(2025, time.April, 10), DueDate(4, 2025, 10))
}

func TestAddDaysAndSameDay(t *testing.T) {
	got := AddDays(date(2024, time.December, 20), 15)
	assert.True(t, SameDay(got, date(2025, time.January, 4)))
}
