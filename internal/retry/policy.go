// Package retry drives a single URL through the operation with a bounded
// number of attempts and uniformly jittered waits between them.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/JakeFAU/yt-history-sync/internal/history"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid retry config")

// Status is the terminal state of one URL's attempt loop.
type Status string

// Terminal statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	// StatusCanceled means the context ended first; nothing should be recorded.
	StatusCanceled Status = "canceled"
)

// Outcome summarizes the attempt loop for one URL.
type Outcome struct {
	Status   Status
	Attempts int
	// Err is the last operation error (Exhausted) or the context error (Canceled).
	Err      error
	Duration time.Duration
}

// Observer is told about each failed attempt that will be retried.
type Observer func(attempt int, err error, wait time.Duration)

// Sleeper waits d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config controls the attempt budget and the delay interval.
type Config struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// Sleep serves both retry waits and Pause; nil uses a timer.
	Sleep Sleeper
}

// Policy implements the attempt loop and the inter-item pause.
type Policy struct {
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
	sleep       Sleeper
}

// New validates cfg and builds a Policy.
func New(cfg Config) (*Policy, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidConfig, cfg.MaxAttempts)
	}
	if cfg.MinDelay < 0 || cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("%w: delays must be >= 0", ErrInvalidConfig)
	}
	if cfg.MinDelay > cfg.MaxDelay {
		return nil, fmt.Errorf("%w: min delay %s exceeds max delay %s", ErrInvalidConfig, cfg.MinDelay, cfg.MaxDelay)
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Policy{
		maxAttempts: cfg.MaxAttempts,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       sleep,
	}, nil
}

// MaxAttempts returns the attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Attempt runs op for url until it succeeds, the budget is spent, or ctx ends.
// Every operation error is treated as retryable.
func (p *Policy) Attempt(ctx context.Context, url string, op history.Operation, observe Observer) Outcome {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Status: StatusCanceled, Attempts: attempt - 1, Err: err, Duration: time.Since(start)}
		}
		err := op.Attempt(ctx, url)
		if err == nil {
			return Outcome{Status: StatusSucceeded, Attempts: attempt, Duration: time.Since(start)}
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Status: StatusCanceled, Attempts: attempt, Err: ctxErr, Duration: time.Since(start)}
		}
		if attempt == p.maxAttempts {
			break
		}
		wait := p.Delay()
		if observe != nil {
			observe(attempt, err, wait)
		}
		if sleepErr := p.sleep(ctx, wait); sleepErr != nil {
			return Outcome{Status: StatusCanceled, Attempts: attempt, Err: sleepErr, Duration: time.Since(start)}
		}
	}
	return Outcome{Status: StatusExhausted, Attempts: p.maxAttempts, Err: lastErr, Duration: time.Since(start)}
}

// Pause waits one jittered interval; workers call it after each recorded
// outcome to throttle the aggregate request rate.
func (p *Policy) Pause(ctx context.Context) error {
	return p.sleep(ctx, p.Delay())
}

// Delay draws a duration uniformly from [MinDelay, MaxDelay].
func (p *Policy) Delay() time.Duration {
	span := p.maxDelay - p.minDelay
	if span <= 0 {
		return p.minDelay
	}
	return p.minDelay + randomJitter(span)
}

func randomJitter(limit time.Duration) time.Duration {
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
