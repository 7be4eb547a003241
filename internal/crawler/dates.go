package crawler

import "time"

// DefaultFutureSlack is how far past "now" a publish date may fall.
const DefaultFutureSlack = 24 * time.Hour

// DateBounds decides whether a resolved publish date is plausible.
type DateBounds struct {
	EarliestYear int
	FutureSlack  time.Duration
	Clock        Clock
}

// Plausible reports whether t lies within [EarliestYear-01-01, now+slack].
func (b DateBounds) Plausible(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	if b.EarliestYear > 0 && t.Year() < b.EarliestYear {
		return false
	}
	slack := b.FutureSlack
	if slack <= 0 {
		slack = DefaultFutureSlack
	}
	now := time.Now()
	if b.Clock != nil {
		now = b.Clock.Now()
	}
	return !t.After(now.Add(slack))
}
