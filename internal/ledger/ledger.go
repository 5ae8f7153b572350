// Package ledger keeps the durable record of terminal per-URL outcomes. The
// in-memory index is loaded once from a Store before any write, and every
// outcome is appended to the Store before the call returns.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/yt-history-sync/internal/history"
)

// ErrLedgerIO wraps every storage failure. Callers treat it as fatal.
var ErrLedgerIO = errors.New("ledger i/o failure")

// Outcome is the terminal state recorded for a URL.
type Outcome string

// Supported outcomes.
const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
)

// Valid reports whether the outcome is one of the known values.
func (o Outcome) Valid() bool {
	return o == OutcomeProcessed || o == OutcomeFailed
}

// Entry is one persisted outcome.
type Entry struct {
	URL        string
	Outcome    Outcome
	RecordedAt time.Time
}

// Store persists entries. Append must be durable before it returns.
// Implementations need not be safe for concurrent Append calls; Ledger
// serializes them.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, entry Entry) error
	Close() error
}

// Ledger is the concurrency-safe outcome index backed by a Store.
type Ledger struct {
	mu        sync.RWMutex
	store     Store
	clock     history.Clock
	processed map[string]struct{}
	failed    map[string]struct{}
}

var _ history.Ledger = (*Ledger)(nil)

// Open loads every stored entry and returns a ledger ready for appends.
func Open(ctx context.Context, store Store, clock history.Clock) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if clock == nil {
		clock = utcClock{}
	}
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", ErrLedgerIO, err)
	}
	l := &Ledger{
		store:     store,
		clock:     clock,
		processed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
	for _, e := range entries {
		switch e.Outcome {
		case OutcomeProcessed:
			l.processed[e.URL] = struct{}{}
			delete(l.failed, e.URL)
		case OutcomeFailed:
			if _, ok := l.processed[e.URL]; !ok {
				l.failed[e.URL] = struct{}{}
			}
		}
	}
	return l, nil
}

// Contains reports whether the URL already has a terminal outcome.
func (l *Ledger) Contains(url string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.containsLocked(url)
}

// MarkProcessed records a successful outcome.
func (l *Ledger) MarkProcessed(ctx context.Context, url string) error {
	return l.mark(ctx, url, OutcomeProcessed)
}

// MarkFailed records an exhausted outcome.
func (l *Ledger) MarkFailed(ctx context.Context, url string) error {
	return l.mark(ctx, url, OutcomeFailed)
}

// Counts returns the sizes of the processed and failed sets.
func (l *Ledger) Counts() (processed, failed int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.processed), len(l.failed)
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrLedgerIO, err)
	}
	return nil
}

func (l *Ledger) mark(ctx context.Context, url string, outcome Outcome) error {
	if url == "" {
		return fmt.Errorf("ledger url is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// A URL lands in exactly one set; repeats of either outcome are no-ops.
	if l.containsLocked(url) {
		return nil
	}
	entry := Entry{URL: url, Outcome: outcome, RecordedAt: l.clock.Now()}
	if err := l.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: append %s %s: %w", ErrLedgerIO, outcome, url, err)
	}
	if outcome == OutcomeProcessed {
		l.processed[url] = struct{}{}
	} else {
		l.failed[url] = struct{}{}
	}
	return nil
}

func (l *Ledger) containsLocked(url string) bool {
	if _, ok := l.processed[url]; ok {
		return true
	}
	_, ok := l.failed[url]
	return ok
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
