// Package system provides the wall clock used for ledger timestamps and
// progress events.
package system

import (
	"time"

	"github.com/JakeFAU/yt-history-sync/internal/history"
)

// Clock implements history.Clock using time.Now.
type Clock struct{}

var _ history.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, matching the zone of history
// timestamps.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
