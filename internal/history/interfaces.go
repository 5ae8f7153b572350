package history

import (
	"context"
	"errors"
	"time"
)

// Operation performs the side effect for one URL. Any returned error is
// treated as transient and opaque by the retry policy.
type Operation interface {
	Attempt(ctx context.Context, url string) error
}

// Ledger records terminal per-URL outcomes across runs.
type Ledger interface {
	Contains(url string) bool
	MarkProcessed(ctx context.Context, url string) error
	MarkFailed(ctx context.Context, url string) error
}

// ErrQueueClosed is returned by Queue.Dequeue once the queue is closed and
// drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue hands work items to workers in FIFO order.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
