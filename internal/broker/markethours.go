package broker

import (
	"time"
)

// MarketHoursChecker answers "can we trade this symbol right now". The
// policy is explicit per asset class: forex trades 24/5, equities trade the
// US regular session. There is no fail-open here; callers decide what to do
// when the market is closed.
type MarketHoursChecker struct {
	now func() time.Time
	loc *time.Location
}

// NewMarketHoursChecker builds a checker anchored to US Eastern time.
func NewMarketHoursChecker() *MarketHoursChecker {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &MarketHoursChecker{now: time.Now, loc: loc}
}

// NewMarketHoursCheckerAt builds a checker with a fixed clock, for tests.
func NewMarketHoursCheckerAt(now func() time.Time) *MarketHoursChecker {
	c := NewMarketHoursChecker()
	c.now = now
	return c
}

// IsOpen reports whether the market for the given symbol is currently open.
func (c *MarketHoursChecker) IsOpen(symbol string) bool {
	if IsForex(symbol) {
		return c.forexOpen()
	}
	return c.equityOpen()
}

// forexOpen: the FX market runs from Sunday 17:00 ET to Friday 17:00 ET.
func (c *MarketHoursChecker) forexOpen() bool {
	now := c.now().In(c.loc)
	switch now.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return now.Hour() >= 17
	case time.Friday:
		return now.Hour() < 17
	default:
		return true
	}
}

// equityOpen: US regular session 09:30-16:00 ET, weekdays. Exchange
// holidays are not modeled; the broker rejects orders on those days anyway.
func (c *MarketHoursChecker) equityOpen() bool {
	now := c.now().In(c.loc)
	wd := now.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
