// Package common provides shared utilities for Folio
package common

import "time"

// MarketClock answers market-hours questions for a single exchange timezone.
// The clock is injectable so tests can pin the current time.
type MarketClock struct {
	loc *time.Location
	Now func() time.Time
}

// NYSE session: 09:30–16:00 local, Monday–Friday. Holidays are not modelled.
const (
	marketOpenMinute  = 9*60 + 30
	marketCloseMinute = 16 * 60
)

// NewMarketClock creates a clock for the named timezone (e.g. "America/New_York").
// Falls back to a fixed ET zone when tzdata is unavailable (minimal containers).
func NewMarketClock(timezone string) *MarketClock {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	return &MarketClock{loc: loc, Now: time.Now}
}

// IsOpen reports whether the market is open at time t.
func (c *MarketClock) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	weekday := local.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}
	hour, min, _ := local.Clock()
	minuteOfDay := hour*60 + min
	return minuteOfDay >= marketOpenMinute && minuteOfDay < marketCloseMinute
}

// IsOpenNow reports whether the market is open right now.
func (c *MarketClock) IsOpenNow() bool {
	return c.IsOpen(c.Now())
}

// LastClose returns the most recent market close at or before t.
func (c *MarketClock) LastClose(t time.Time) time.Time {
	local := t.In(c.loc)

	atClose := func(d time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, c.loc)
	}

	hour, min, _ := local.Clock()
	minuteOfDay := hour*60 + min

	switch local.Weekday() {
	case time.Saturday:
		return atClose(local.AddDate(0, 0, -1))
	case time.Sunday:
		return atClose(local.AddDate(0, 0, -2))
	case time.Monday:
		if minuteOfDay < marketCloseMinute {
			return atClose(local.AddDate(0, 0, -3))
		}
		return atClose(local)
	default:
		if minuteOfDay < marketCloseMinute {
			return atClose(local.AddDate(0, 0, -1))
		}
		return atClose(local)
	}
}

// LastTradingDay returns the date of the most recent completed trading session.
func (c *MarketClock) LastTradingDay(t time.Time) time.Time {
	close := c.LastClose(t)
	return time.Date(close.Year(), close.Month(), close.Day(), 0, 0, 0, 0, time.UTC)
}
