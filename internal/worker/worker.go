// Package worker implements the per-URL execution loop of the replay pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/history"
	"github.com/JakeFAU/yt-history-sync/internal/progress"
	"github.com/JakeFAU/yt-history-sync/internal/retry"
)

// Config controls Worker identity within a run.
type Config struct {
	Index int
	RunID [16]byte
}

// Stats counts the outcomes a single worker produced.
type Stats struct {
	Processed int
	Failed    int
	Canceled  int
}

// Add merges o into s.
func (s *Stats) Add(o Stats) {
	s.Processed += o.Processed
	s.Failed += o.Failed
	s.Canceled += o.Canceled
}

// Worker pops work items, drives them through the retry policy, and records
// the terminal outcome in the ledger.
type Worker struct {
	queue   history.Queue
	ledger  history.Ledger
	policy  *retry.Policy
	op      history.Operation
	emitter progress.Emitter
	clock   history.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue history.Queue,
	ledger history.Ledger,
	policy *retry.Policy,
	op history.Operation,
	emitter progress.Emitter,
	clock history.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		ledger:  ledger,
		policy:  policy,
		op:      op,
		emitter: emitter,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With(zap.Int("worker", cfg.Index)),
	}
}

// Run blocks until the queue is drained or ctx ends. A ledger write failure
// is returned as a fatal error; everything else is reflected in Stats.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, history.ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Debug("worker exiting", zap.Error(err))
				return stats, nil
			}
			return stats, fmt.Errorf("dequeue: %w", err)
		}
		status, err := w.processItem(ctx, item)
		if err != nil {
			return stats, err
		}
		switch status {
		case retry.StatusSucceeded:
			stats.Processed++
		case retry.StatusExhausted:
			stats.Failed++
		case retry.StatusCanceled:
			stats.Canceled++
			return stats, nil
		}
		if err := w.policy.Pause(ctx); err != nil {
			return stats, nil
		}
	}
}

func (w *Worker) processItem(ctx context.Context, item history.WorkItem) (retry.Status, error) {
	url := item.URL
	w.logger.Debug("attempting url", zap.String("url", url), zap.String("watched_at", item.Time))
	w.emit(progress.StageItemStart, url, 1, 0, "")

	outcome := w.policy.Attempt(ctx, url, w.op, func(attempt int, err error, wait time.Duration) {
		w.logger.Warn("attempt failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.policy.MaxAttempts()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		w.emit(progress.StageItemRetry, url, attempt, 0, err.Error())
	})

	// Ledger writes must land even when a shutdown races the final attempt.
	recordCtx := context.WithoutCancel(ctx)
	switch outcome.Status {
	case retry.StatusSucceeded:
		if err := w.ledger.MarkProcessed(recordCtx, url); err != nil {
			return outcome.Status, fmt.Errorf("record processed %s: %w", url, err)
		}
		w.logger.Info("processed url",
			zap.String("url", url),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("dur", outcome.Duration),
		)
		w.emit(progress.StageItemProcessed, url, outcome.Attempts, outcome.Duration, "")
	case retry.StatusExhausted:
		if err := w.ledger.MarkFailed(recordCtx, url); err != nil {
			return outcome.Status, fmt.Errorf("record failed %s: %w", url, err)
		}
		w.logger.Error("url failed permanently",
			zap.String("url", url),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
		w.emit(progress.StageItemFailed, url, outcome.Attempts, outcome.Duration, errText(outcome.Err))
	case retry.StatusCanceled:
		w.logger.Info("url canceled; left for the next run",
			zap.String("url", url),
			zap.Int("attempts", outcome.Attempts),
		)
		w.emit(progress.StageItemCanceled, url, outcome.Attempts, outcome.Duration, errText(outcome.Err))
	}
	return outcome.Status, nil
}

func (w *Worker) emit(stage progress.Stage, url string, attempt int, dur time.Duration, note string) {
	w.emitter.Emit(progress.Event{
		RunID:   w.cfg.RunID,
		TS:      w.clock.Now(),
		Stage:   stage,
		URL:     url,
		Attempt: attempt,
		Worker:  w.cfg.Index,
		Dur:     dur,
		Note:    note,
	})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
