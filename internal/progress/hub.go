package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls the Hub. Zero values fall back to the defaults below.
type Config struct {
	// BufferSize bounds the events waiting for the flusher; Emit drops past it.
	BufferSize int
	// FlushInterval is how often buffered item events reach the sinks.
	FlushInterval time.Duration
	Logger        *zap.Logger
}

const (
	defaultBufferSize    = 1024
	defaultFlushInterval = 500 * time.Millisecond
	sinkTimeout          = 5 * time.Second
	dropLogInterval      = 5 * time.Second
)

// Tally is the Hub's running view of the current replay, built from the
// events it has accepted. Dropped events are not counted.
type Tally struct {
	RunID     string `json:"run_id,omitempty"`
	InFlight  int    `json:"in_flight"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Canceled  int    `json:"canceled"`
	Retries   int    `json:"retries"`
	Finished  bool   `json:"finished"`
}

func (t *Tally) apply(evt Event) {
	switch evt.Stage {
	case StageRunStart:
		*t = Tally{RunID: evt.RunUUID().String()}
	case StageRunDone:
		t.Finished = true
	case StageItemStart:
		t.InFlight++
	case StageItemRetry:
		t.Retries++
	case StageItemProcessed:
		t.InFlight--
		t.Processed++
	case StageItemFailed:
		t.InFlight--
		t.Failed++
	case StageItemCanceled:
		t.InFlight--
		t.Canceled++
	}
}

// Hub collects events from every worker and hands them to the sinks in
// batches. Item events go out on each FlushInterval tick; RUN_DONE forces an
// immediate flush so sinks hold the full run before Close. Emit is safe for
// concurrent use and never blocks a worker.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped     atomic.Int64
	lastDropLog atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	closeCtx    context.Context

	mu    sync.Mutex
	tally Tally
}

// NewHub starts the flusher for the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.run()
	return h
}

// Emit queues evt for the sinks. A full buffer drops the event and logs a
// rate-limited warning; the ledger never waits on progress.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.noteDrop()
	}
}

func (h *Hub) noteDrop() {
	total := h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDropLog.Load()
	if now-last >= int64(dropLogInterval) && h.lastDropLog.CompareAndSwap(last, now) {
		h.logger.Warn("progress buffer full, dropping events", zap.Int64("dropped_total", total))
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Snapshot returns the tally of the latest run.
func (h *Hub) Snapshot() Tally {
	if h == nil {
		return Tally{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tally
}

// Close drains buffered events, flushes and closes the sinks, and waits for
// the flusher. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Event
	for {
		select {
		case evt := <-h.events:
			batch = h.add(batch, evt)
		case <-ticker.C:
			batch = h.deliver(batch)
		case <-h.stop:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = h.add(batch, evt)
		default:
			h.deliver(batch)
			h.closeSinks()
			return
		}
	}
}

// add folds evt into the tally and flushes early at the end of a run or
// when the batch reaches the buffer size.
func (h *Hub) add(batch []Event, evt Event) []Event {
	h.mu.Lock()
	h.tally.apply(evt)
	h.mu.Unlock()

	batch = append(batch, evt)
	if evt.Stage == StageRunDone || len(batch) >= h.cfg.BufferSize {
		return h.deliver(batch)
	}
	return batch
}

// deliver hands a copy of batch to every sink and returns batch emptied.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := slices.Clone(batch)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(out)), zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if err := sink.Close(h.closeCtx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
