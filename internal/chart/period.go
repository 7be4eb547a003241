// Package chart aggregates ticker mention and sentiment rows into the
// per-date structure the price chart overlays, and serves it through the
// query cache.
package chart

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// Period is a relative window ending today.
type Period string

// Supported periods.
const (
	Period1M Period = "1M"
	Period3M Period = "3M"
	Period6M Period = "6M"
	Period1Y Period = "1Y"

	DefaultPeriod = Period6M
)

// ParsePeriod accepts 1M/3M/6M/1Y and the 1mo/3mo/6mo/1y spellings. An
// empty value selects DefaultPeriod.
func ParsePeriod(raw string) (Period, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return DefaultPeriod, nil
	case "1M", "1MO":
		return Period1M, nil
	case "3M", "3MO":
		return Period3M, nil
	case "6M", "6MO":
		return Period6M, nil
	case "1Y":
		return Period1Y, nil
	default:
		return "", fmt.Errorf("unsupported period %q (want 1M, 3M, 6M or 1Y)", raw)
	}
}

// Days is the window length.
func (p Period) Days() int {
	switch p {
	case Period1M:
		return 30
	case Period3M:
		return 90
	case Period6M:
		return 180
	default:
		return 365
	}
}

// Window returns inclusive calendar-date bounds, as midnight UTC, for the
// period ending on now's date in loc.
func (p Period) Window(now time.Time, loc *time.Location) (from, to time.Time) {
	to = store.CalendarDate(now, loc)
	return to.AddDate(0, 0, -p.Days()), to
}
