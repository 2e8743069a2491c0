// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// Clock implements job.Clock using time.Now.
type Clock struct{}

var _ job.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, the zone every record stores.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
