// Package memory provides a non-durable ledger store for tests and ephemeral runs.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/yt-history-sync/internal/ledger"
)

// Store keeps entries in a slice.
type Store struct {
	mu        sync.Mutex
	entries   []ledger.Entry
	appendErr error
	closed    bool
}

// NewStore returns a store seeded with the given entries.
func NewStore(seed ...ledger.Entry) *Store {
	return &Store{entries: append([]ledger.Entry(nil), seed...)}
}

// FailAppends makes subsequent Append calls return err (nil restores success).
func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// Load returns a copy of the stored entries.
func (s *Store) Load(context.Context) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Entry(nil), s.entries...), nil
}

// Append stores the entry unless a failure was injected.
func (s *Store) Append(_ context.Context, entry ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store closed")
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns everything appended so far.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Entry(nil), s.entries...)
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
