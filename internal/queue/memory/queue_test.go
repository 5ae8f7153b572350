package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/yt-history-sync/internal/history"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan history.WorkItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), history.WorkItem{URL: "u1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.URL != "u1" {
			t.Fatalf("expected u1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueFIFOThenClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for _, url := range []string{"a", "b", "c"} {
		if err := q.Enqueue(context.Background(), history.WorkItem{URL: url}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", url, err)
		}
	}
	q.Close()
	q.Close()

	if q.Len() != 3 {
		t.Fatalf("expected 3 buffered items, got %d", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got.URL != want {
			t.Fatalf("expected %s, got %s", want, got.URL)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Enqueue(context.Background(), history.WorkItem{URL: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on enqueue, got %v", err)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.Enqueue(context.Background(), history.WorkItem{URL: "primed"}); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Dequeue(ctx); err == nil || err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error even with buffered items, got %v", err)
	}
	if err := q.Enqueue(ctx, history.WorkItem{URL: "blocked"}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}
