// Package app builds and holds the long-lived services of a replay run,
// acting as the dependency container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/clock/system"
	"github.com/JakeFAU/yt-history-sync/internal/config"
	"github.com/JakeFAU/yt-history-sync/internal/dispatcher"
	"github.com/JakeFAU/yt-history-sync/internal/download"
	"github.com/JakeFAU/yt-history-sync/internal/history"
	idgen "github.com/JakeFAU/yt-history-sync/internal/id/uuid"
	"github.com/JakeFAU/yt-history-sync/internal/ledger"
	"github.com/JakeFAU/yt-history-sync/internal/ledger/file"
	ledgermem "github.com/JakeFAU/yt-history-sync/internal/ledger/memory"
	"github.com/JakeFAU/yt-history-sync/internal/ledger/postgres"
	"github.com/JakeFAU/yt-history-sync/internal/ledger/sqlite"
	"github.com/JakeFAU/yt-history-sync/internal/metrics"
	"github.com/JakeFAU/yt-history-sync/internal/progress"
	"github.com/JakeFAU/yt-history-sync/internal/progress/sinks"
	"github.com/JakeFAU/yt-history-sync/internal/retry"
)

// App holds the services shared by a replay run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      history.Clock
	ledger     *ledger.Ledger
	operation  history.Operation
	registry   *prometheus.Registry
	hub        *progress.Hub
	metrics    *metrics.Server
	dispatcher *dispatcher.Dispatcher
}

// Option customizes New.
type Option func(*options)

type options struct {
	operation history.Operation
	clock     history.Clock
}

// WithOperation replaces the yt-dlp operation.
func WithOperation(op history.Operation) Option {
	return func(o *options) { o.operation = op }
}

// WithClock replaces the wall clock.
func WithClock(c history.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds every service from cfg and fails fast on the first error. The
// ledger is fully loaded before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	a := &App{cfg: cfg, logger: logger, clock: o.clock}

	op := o.operation
	if op == nil {
		ytdlp, err := download.NewYTDLP(cfg.Download, logger.Named("ytdlp"))
		if err != nil {
			return nil, fmt.Errorf("configure operation: %w", err)
		}
		op = ytdlp
	}
	a.operation = op

	policy, err := retry.New(retry.Config{
		MaxAttempts: cfg.Replay.MaxRetries,
		MinDelay:    cfg.Replay.MinDelay,
		MaxDelay:    cfg.Replay.MaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("configure retry policy: %w", err)
	}

	store, err := openStore(ctx, cfg.Ledger, logger.Named("ledger"))
	if err != nil {
		return nil, err
	}
	led, err := ledger.Open(ctx, store, a.clock)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	a.ledger = led
	processed, failed := led.Counts()
	logger.Info("ledger loaded",
		zap.String("backend", cfg.Ledger.Backend),
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)

	if err := a.buildProgress(); err != nil {
		return nil, errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}

	d, err := dispatcher.New(led, policy, op, a.hub, a.clock, idgen.New(), dispatcher.Config{
		Concurrency: cfg.Replay.Concurrency,
	}, logger.Named("dispatcher"))
	if err != nil {
		return nil, errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}
	a.dispatcher = d
	return a, nil
}

func (a *App) buildProgress() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return err
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:    a.cfg.Progress.BufferSize,
		FlushInterval: a.cfg.Progress.FlushInterval,
		Logger:        a.logger.Named("progress"),
	}, sinkList...)

	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	srv, err := metrics.New(a.cfg.Metrics.Addr, a.registry, a.status, a.logger.Named("metrics"))
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	a.metrics = srv
	return nil
}

func openStore(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Backend {
	case config.LedgerFile, "":
		store, err := file.New(file.Config{
			Dir:           cfg.Dir,
			ProcessedFile: cfg.ProcessedFile,
			FailedFile:    cfg.FailedFile,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open file ledger: %w", err)
		}
		processed, failed := store.Paths()
		logger.Info("using file ledger", zap.String("processed", processed), zap.String("failed", failed))
		return store, nil
	case config.LedgerSQLite:
		store, err := sqlite.New(ctx, sqlite.Config{Path: cfg.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		logger.Info("using sqlite ledger", zap.String("path", cfg.SQLitePath))
		return store, nil
	case config.LedgerPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		logger.Info("using postgres ledger", zap.String("table", cfg.Postgres.Table))
		return store, nil
	case config.LedgerMemory:
		logger.Warn("using in-memory ledger; outcomes will not survive this run")
		return ledgermem.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}

// Status is the /status payload: ledger totals, the live tally of the
// current run, and dropped progress events.
type Status struct {
	Processed     int            `json:"processed"`
	Failed        int            `json:"failed"`
	Run           progress.Tally `json:"run"`
	DroppedEvents int64          `json:"dropped_events"`
}

func (a *App) status() any {
	processed, failed := a.ledger.Counts()
	return Status{
		Processed:     processed,
		Failed:        failed,
		Run:           a.hub.Snapshot(),
		DroppedEvents: a.hub.Dropped(),
	}
}

// GetLogger returns the shared logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetLedger exposes the loaded ledger.
func (a *App) GetLedger() *ledger.Ledger {
	return a.ledger
}

// GetDispatcher returns the worker pool front end.
func (a *App) GetDispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Pending returns the items the ledger has no outcome for.
func (a *App) Pending(items []history.WorkItem) []history.WorkItem {
	return a.dispatcher.Pending(items)
}

// Replay dispatches items through the worker pool.
func (a *App) Replay(ctx context.Context, items []history.WorkItem) (dispatcher.Report, error) {
	report, err := a.dispatcher.Run(ctx, items)
	if err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	return report, nil
}

// GetRegistry returns the run's Prometheus registry.
func (a *App) GetRegistry() *prometheus.Registry {
	return a.registry
}

// MetricsAddr reports the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}

// BuildWorkList loads the configured history file and reduces it to the
// time-ordered work-list, logging the count after each stage.
func (a *App) BuildWorkList() ([]history.WorkItem, error) {
	events, err := history.Load(a.cfg.History.File)
	if err != nil {
		return nil, err
	}
	filtered := history.Filter(events, a.cfg.History.FilterOptions())
	a.logger.Info("history filtered",
		zap.String("file", a.cfg.History.File),
		zap.Int("events", len(events)),
		zap.Int("eligible", len(filtered)),
		zap.String("cutoff", a.cfg.History.Cutoff),
	)
	unique := history.Dedupe(filtered)
	a.logger.Info("history deduplicated", zap.Int("unique", len(unique)))
	return history.SortByTime(unique), nil
}

// Close flushes progress, stops the metrics endpoint, and closes the ledger.
// Every step runs even when an earlier one fails.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped during run", zap.Int64("dropped", dropped))
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
