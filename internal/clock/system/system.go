// Package system provides the wall clock used outside of tests.
package system

import (
	"time"

	"github.com/JakeFAU/blogpulse/internal/crawler"
)

var _ crawler.Clock = Clock{}

// Clock reports wall time in UTC; callers convert to the source timezone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
