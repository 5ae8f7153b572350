package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/app"
	"github.com/JakeFAU/yt-history-sync/internal/config"
	"github.com/JakeFAU/yt-history-sync/internal/dispatcher"
	"github.com/JakeFAU/yt-history-sync/internal/history"
	"github.com/JakeFAU/yt-history-sync/internal/logging"
)

var cfgFile string

// ErrInterrupted reports a run that stopped with URLs still pending.
var ErrInterrupted = errors.New("replay interrupted")

// App defines the services commands use, so tests can inject a fake.
type App interface {
	Close(ctx context.Context) error
	GetLogger() *zap.Logger
	Config() config.Config
	BuildWorkList() ([]history.WorkItem, error)
	Pending(items []history.WorkItem) []history.WorkItem
	Replay(ctx context.Context, items []history.WorkItem) (dispatcher.Report, error)
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yt-history-sync",
		Short: "Replay a Google Takeout watch history against YouTube.",
		Long: `yt-history-sync reads a Takeout watch-history.json, keeps the YouTube
videos watched since the cutoff, and runs yt-dlp for each one so it is marked
watched (or downloaded) on the signed-in account. Outcomes are recorded in a
ledger, so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
		RunE:         runReplay,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./ytsync.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")
	addReplayFlags(cmd.Flags())

	cmd.AddCommand(newReplayCmd())
	return cmd
}

// normalizeFlagName accepts the historical spelling of the cutoff flag.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "resume_timestamp", "resume-timestamp":
		name = "cutoff"
	}
	return pflag.NormalizedName(name)
}

// closeApp flushes progress and closes the ledger even when the run failed,
// using a context that survives the shutdown signal.
func closeApp(ctx context.Context, appInstance App, runErr error) error {
	closeErr := appInstance.Close(context.WithoutCancel(ctx))
	_ = appInstance.GetLogger().Sync()
	if closeErr != nil {
		return errors.Join(runErr, fmt.Errorf("shut down services: %w", closeErr))
	}
	return runErr
}

// startApp loads configuration for cmd and builds the App. Only the replay
// paths call it, so help and completion never open the ledger.
func startApp(cmd *cobra.Command) (App, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	appInstance, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return appInstance, nil
}

// Execute runs the root command; SIGINT and SIGTERM cancel the run so
// in-flight outcomes are recorded before exit.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	logger, lerr := logging.New(false, "")
	if lerr != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Fatal("command execution failed", zap.Error(err))
}
