// Package dispatcher fans the pending work-list out to a bounded pool of
// workers and aggregates their outcomes into a run report.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/yt-history-sync/internal/history"
	idgen "github.com/JakeFAU/yt-history-sync/internal/id/uuid"
	"github.com/JakeFAU/yt-history-sync/internal/progress"
	"github.com/JakeFAU/yt-history-sync/internal/queue/memory"
	"github.com/JakeFAU/yt-history-sync/internal/retry"
	"github.com/JakeFAU/yt-history-sync/internal/worker"
)

// ErrInvalidConcurrency is returned by New when Concurrency < 1.
var ErrInvalidConcurrency = errors.New("concurrency must be >= 1")

// RunIDGenerator mints run identifiers.
type RunIDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Config controls pool sizing.
type Config struct {
	Concurrency int
}

// Report summarizes one run.
type Report struct {
	RunID uuid.UUID
	// Total is the size of the work-list handed to Run.
	Total int
	// Skipped counts items already present in the ledger.
	Skipped int
	// Dispatched counts items placed on the queue.
	Dispatched int
	Processed  int
	Failed     int
	// Canceled counts items interrupted mid-attempt; like unstarted items
	// they are retried next run.
	Canceled int
	Duration time.Duration
}

// Unstarted reports dispatched items no worker reached before shutdown.
func (r Report) Unstarted() int {
	return r.Dispatched - r.Processed - r.Failed - r.Canceled
}

// Dispatcher owns the worker pool for a replay run.
type Dispatcher struct {
	ledger  history.Ledger
	policy  *retry.Policy
	op      history.Operation
	emitter progress.Emitter
	clock   history.Clock
	ids     RunIDGenerator
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher. A nil emitter or id generator falls back to a
// no-op emitter and UUIDv7 run ids.
func New(
	ledger history.Ledger,
	policy *retry.Policy,
	op history.Operation,
	emitter progress.Emitter,
	clock history.Clock,
	ids RunIDGenerator,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, cfg.Concurrency)
	}
	if ledger == nil || policy == nil || op == nil || clock == nil {
		return nil, errors.New("dispatcher requires ledger, policy, operation and clock")
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if ids == nil {
		ids = idgen.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		ledger:  ledger,
		policy:  policy,
		op:      op,
		emitter: emitter,
		clock:   clock,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Pending returns items absent from the ledger, preserving order.
func (d *Dispatcher) Pending(items []history.WorkItem) []history.WorkItem {
	pending := make([]history.WorkItem, 0, len(items))
	for _, item := range items {
		if d.ledger.Contains(item.URL) {
			continue
		}
		pending = append(pending, item)
	}
	return pending
}

// Run dispatches every pending item to exactly Concurrency workers and blocks
// until all of them exit. Items leave the queue in work-list order. The first
// fatal worker error cancels the remaining workers between items and is
// returned alongside the partial report.
func (d *Dispatcher) Run(ctx context.Context, items []history.WorkItem) (Report, error) {
	start := d.clock.Now()
	runID, err := d.ids.NewRunID()
	if err != nil {
		return Report{}, err
	}
	pending := d.Pending(items)
	report := Report{
		RunID:      runID,
		Total:      len(items),
		Skipped:    len(items) - len(pending),
		Dispatched: len(pending),
	}
	logger := d.logger.With(zap.String("run_id", runID.String()))
	logger.Info("dispatching work",
		zap.Int("total", report.Total),
		zap.Int("skipped", report.Skipped),
		zap.Int("pending", report.Dispatched),
		zap.Int("concurrency", d.cfg.Concurrency),
	)
	d.emitRun(runID, progress.StageRunStart, 0, fmt.Sprintf("pending=%d", report.Dispatched))

	// The queue is sized to hold every item, so filling never blocks.
	queue := memory.NewQueue(len(pending))
	fillCtx := context.WithoutCancel(ctx)
	for _, item := range pending {
		if err := queue.Enqueue(fillCtx, item); err != nil {
			queue.Close()
			return d.finish(report, start, logger), fmt.Errorf("fill queue: %w", err)
		}
	}
	queue.Close()

	stats := make([]worker.Stats, d.cfg.Concurrency)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range d.cfg.Concurrency {
		w := worker.New(queue, d.ledger, d.policy, d.op, d.emitter, d.clock, worker.Config{
			Index: i,
			RunID: progress.UUIDToBytes(runID),
		}, logger)
		group.Go(func() error {
			s, err := w.Run(groupCtx)
			stats[i] = s
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	runErr := group.Wait()

	for _, s := range stats {
		report.Processed += s.Processed
		report.Failed += s.Failed
		report.Canceled += s.Canceled
	}
	report = d.finish(report, start, logger)
	if runErr != nil {
		logger.Error("run aborted", zap.Error(runErr))
		return report, runErr
	}
	return report, nil
}

func (d *Dispatcher) finish(report Report, start time.Time, logger *zap.Logger) Report {
	report.Duration = d.clock.Now().Sub(start)
	logger.Info("run finished",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("canceled", report.Canceled),
		zap.Int("unstarted", report.Unstarted()),
		zap.Duration("dur", report.Duration),
	)
	d.emitRun(report.RunID, progress.StageRunDone, report.Duration,
		fmt.Sprintf("processed=%d failed=%d canceled=%d", report.Processed, report.Failed, report.Canceled))
	return report
}

func (d *Dispatcher) emitRun(runID uuid.UUID, stage progress.Stage, dur time.Duration, note string) {
	d.emitter.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(runID),
		TS:     d.clock.Now(),
		Stage:  stage,
		Worker: -1,
		Dur:    dur,
		Note:   note,
	})
}
