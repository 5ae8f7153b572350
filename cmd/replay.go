package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/download"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the watch history (the default command)",
		Long: `Builds the work-list from the history file, drops URLs already recorded
in the ledger, and runs the remaining ones through yt-dlp with bounded
concurrency and jittered retries.`,
		RunE: runReplay,
	}
	addReplayFlags(cmd.Flags())
	return cmd
}

func addReplayFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(normalizeFlagName)
	fs.String("history-file", "./watch-history.json", "Takeout watch-history.json to replay")
	fs.String("cutoff", "2022-08-17T11:50:00.000Z", "skip events before this ISO-8601 time (empty disables)")
	fs.Bool("exclude-shorts", false, "skip videos whose title mentions shorts")
	fs.Int("concurrency", 5, "number of concurrent workers")
	fs.Int("max-retries", 3, "total attempts per URL before it is recorded as failed")
	fs.Duration("min-delay", time.Second, "lower bound of the jittered retry and throttle delay")
	fs.Duration("max-delay", 3*time.Second, "upper bound of the jittered retry and throttle delay")
	fs.Bool("dry-run", false, "print the pending work-list without running yt-dlp")
	fs.String("mode", string(download.ModeMarkWatched), "mark_watched or download")
	fs.String("format", "", "yt-dlp format selector override")
	fs.String("cookies-from-browser", "", "browser to read cookies from ("+strings.Join(download.Browsers, ", ")+")")
	fs.String("cookie-file", "", "Netscape cookie file; excludes --cookies-from-browser")
	fs.String("output-dir", "", "download directory (download mode)")
	fs.String("ytdlp-path", "", "yt-dlp executable (default from PATH)")
	fs.String("ledger-backend", "file", "ledger backend: file, sqlite, postgres or memory")
	fs.String("ledger-dir", ".", "directory for the file ledger")
	fs.String("sqlite-path", "ytsync-ledger.db", "database file for the sqlite ledger")
	fs.String("postgres-dsn", "", "connection string for the postgres ledger")
	fs.String("metrics-addr", "", "serve /metrics and /healthz on this address during the run")
}

func runReplay(cmd *cobra.Command, _ []string) (err error) {
	appInstance, err := startApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = closeApp(cmd.Context(), appInstance, err)
	}()
	logger := appInstance.GetLogger()
	cfg := appInstance.Config()

	items, err := appInstance.BuildWorkList()
	if err != nil {
		return fmt.Errorf("build work-list: %w", err)
	}

	if cfg.Replay.DryRun {
		pending := appInstance.Pending(items)
		out := cmd.OutOrStdout()
		for _, item := range pending {
			if _, err := fmt.Fprintf(out, "%s\t%s\n", item.Time, item.URL); err != nil {
				return fmt.Errorf("write work-list: %w", err)
			}
		}
		logger.Info("dry run complete",
			zap.Int("work_items", len(items)),
			zap.Int("pending", len(pending)),
			zap.Int("already_done", len(items)-len(pending)),
		)
		return nil
	}

	report, err := appInstance.Replay(cmd.Context(), items)
	fields := []zap.Field{
		zap.String("run_id", report.RunID.String()),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("canceled", report.Canceled),
		zap.Int("unstarted", report.Unstarted()),
		zap.Duration("dur", report.Duration),
	}
	if err != nil {
		logger.Error("replay aborted", append(fields, zap.Error(err))...)
		return err
	}
	if left := report.Canceled + report.Unstarted(); left > 0 {
		logger.Warn("replay interrupted; remaining URLs will be retried next run", fields...)
		err = fmt.Errorf("%w: %d urls still pending", ErrInterrupted, left)
		if cause := context.Cause(cmd.Context()); cause != nil {
			err = errors.Join(err, cause)
		}
		return err
	}
	logger.Info("replay summary", fields...)
	return nil
}
