// Package memory provides the in-process work queue shared by the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/yt-history-sync/internal/history"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained,
// and by Enqueue after Close.
var ErrQueueClosed = history.ErrQueueClosed

// Queue is a bounded FIFO with context-aware operations.
type Queue struct {
	ch      chan history.WorkItem
	closeMu sync.RWMutex
	closed  bool
}

var _ history.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan history.WorkItem, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item history.WorkItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item. Cancellation wins over pending items so a
// stopping worker never starts new work.
func (q *Queue) Dequeue(ctx context.Context) (history.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return history.WorkItem{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return history.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return history.WorkItem{}, ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel; buffered items remain available.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
