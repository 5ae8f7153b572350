package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/yt-history-sync/internal/progress"
)

// PrometheusSink exports replay progress via Prometheus. It owns the run
// gauges and the per-item outcome, attempt and latency collectors.
type PrometheusSink struct {
	runsStarted prometheus.Counter
	runsActive  prometheus.Gauge
	runRuntime  prometheus.Histogram

	itemsStarted prometheus.Counter
	items        *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	retries      prometheus.Counter
	itemDuration *prometheus.HistogramVec

	tracker *runTracker
}

// Outcome label values used by the item collectors.
const (
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
	outcomeCanceled  = "canceled"
)

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsync_runs_started_total",
			Help: "Total replay runs that have started.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ytsync_runs_active",
			Help: "Replay runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytsync_run_duration_seconds",
			Help:    "Wall time per completed replay run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
		itemsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsync_items_started_total",
			Help: "Work items picked up by a worker.",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsync_items_total",
			Help: "Work items finished, partitioned by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytsync_item_attempts_total",
			Help: "Operation attempts spent on finished items, partitioned by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytsync_item_retries_total",
			Help: "Failed attempts that were followed by a retry wait.",
		}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ytsync_item_duration_seconds",
			Help:    "Time from first attempt to outcome, partitioned by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsActive,
		s.runRuntime,
		s.itemsStarted,
		s.items,
		s.attempts,
		s.retries,
		s.itemDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
	case progress.StageItemStart:
		s.itemsStarted.Inc()
	case progress.StageItemRetry:
		s.retries.Inc()
	case progress.StageItemProcessed:
		s.observeItem(evt, outcomeProcessed)
	case progress.StageItemFailed:
		s.observeItem(evt, outcomeFailed)
	case progress.StageItemCanceled:
		s.observeItem(evt, outcomeCanceled)
	}
}

func (s *PrometheusSink) observeItem(evt progress.Event, outcome string) {
	s.items.WithLabelValues(outcome).Inc()
	if evt.Attempt > 0 {
		s.attempts.WithLabelValues(outcome).Add(float64(evt.Attempt))
	}
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
