package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func easternClock(t *testing.T, weekday time.Weekday, hour, min int) func() time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 2026-03-02 is a Monday.
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	base = base.AddDate(0, 0, int(weekday-time.Monday))
	return func() time.Time {
		return time.Date(base.Year(), base.Month(), base.Day(), hour, min, 0, 0, loc)
	}
}

func TestEquityHours(t *testing.T) {
	cases := []struct {
		name    string
		weekday time.Weekday
		hour    int
		min     int
		open    bool
	}{
		{"midsession", time.Wednesday, 12, 0, true},
		{"open bell", time.Monday, 9, 30, true},
		{"one minute before open", time.Monday, 9, 29, false},
		{"close bell", time.Friday, 16, 0, false},
		{"last trading minute", time.Friday, 15, 59, true},
		{"saturday", time.Saturday, 12, 0, false},
		{"sunday", time.Sunday, 12, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewMarketHoursCheckerAt(easternClock(t, tc.weekday, tc.hour, tc.min))
			assert.Equal(t, tc.open, c.IsOpen("AAPL"))
		})
	}
}

func TestForexHours(t *testing.T) {
	cases := []struct {
		name    string
		weekday time.Weekday
		hour    int
		open    bool
	}{
		{"tuesday overnight", time.Tuesday, 3, true},
		{"friday morning", time.Friday, 10, true},
		{"friday after close", time.Friday, 17, false},
		{"saturday", time.Saturday, 12, false},
		{"sunday before open", time.Sunday, 12, false},
		{"sunday after open", time.Sunday, 18, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewMarketHoursCheckerAt(easternClock(t, tc.weekday, tc.hour, 0))
			assert.Equal(t, tc.open, c.IsOpen("EUR_USD"))
		})
	}
}
