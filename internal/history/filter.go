package history

import (
	"fmt"
	"strings"
	"time"
)

// FilterOptions controls which events survive Filter.
type FilterOptions struct {
	// Cutoff is an ISO-8601 timestamp; events strictly before it are dropped.
	// Comparison is lexicographic, which matches chronological order for the
	// fixed-width UTC timestamps Takeout emits. Empty disables the cutoff.
	Cutoff string
	// ExcludeShorts drops events whose title mentions "short" or "#short".
	ExcludeShorts bool
}

// ValidateCutoff checks that a non-empty cutoff parses as RFC 3339 in UTC.
// A numeric offset would not sort against Takeout's "Z" timestamps.
func ValidateCutoff(cutoff string) error {
	if cutoff == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339Nano, cutoff); err != nil {
		return fmt.Errorf("cutoff %q is not an ISO-8601 timestamp: %w", cutoff, err)
	}
	if !strings.HasSuffix(cutoff, "Z") {
		return fmt.Errorf("cutoff %q must be UTC with a trailing Z", cutoff)
	}
	return nil
}

// Filter keeps eligible events in input order. Category and cutoff are checked
// before the ads rule, which is checked before URL presence.
func Filter(events []VideoEvent, opts FilterOptions) []VideoEvent {
	kept := make([]VideoEvent, 0, len(events))
	for _, evt := range events {
		if Eligible(evt, opts) {
			kept = append(kept, evt)
		}
	}
	return kept
}

// Eligible applies the eligibility rules to a single event.
func Eligible(evt VideoEvent, opts FilterOptions) bool {
	if evt.Header != CategoryYouTube || evt.Time < opts.Cutoff {
		return false
	}
	if evt.IsAd() {
		return false
	}
	if !evt.HasURL() {
		return false
	}
	if opts.ExcludeShorts && isShort(evt.Title) {
		return false
	}
	return true
}

func isShort(title *string) bool {
	if title == nil {
		return false
	}
	// "#short" contains "short"; both spellings collapse to one check.
	return strings.Contains(strings.ToLower(*title), "short")
}
