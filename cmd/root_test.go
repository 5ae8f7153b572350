package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/config"
	"github.com/JakeFAU/yt-history-sync/internal/dispatcher"
	"github.com/JakeFAU/yt-history-sync/internal/history"
)

type fakeApp struct {
	cfg       config.Config
	items     []history.WorkItem
	done      map[string]bool
	replayErr error
	report    *dispatcher.Report
	replayed  []history.WorkItem
	closed    bool
	built     int
}

func (f *fakeApp) Close(context.Context) error { f.closed = true; return nil }
func (f *fakeApp) GetLogger() *zap.Logger      { return zap.NewNop() }
func (f *fakeApp) Config() config.Config       { return f.cfg }

func (f *fakeApp) BuildWorkList() ([]history.WorkItem, error) {
	return f.items, nil
}

func (f *fakeApp) Pending(items []history.WorkItem) []history.WorkItem {
	var out []history.WorkItem
	for _, item := range items {
		if !f.done[item.URL] {
			out = append(out, item)
		}
	}
	return out
}

func (f *fakeApp) Replay(_ context.Context, items []history.WorkItem) (dispatcher.Report, error) {
	f.replayed = items
	if f.report != nil {
		return *f.report, f.replayErr
	}
	return dispatcher.Report{Total: len(items), Dispatched: len(items), Processed: len(items)}, f.replayErr
}

// useFakeApp swaps the factory; callers must not run in parallel.
func useFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		fake.cfg = cfg
		fake.built++
		return fake, nil
	}
	t.Cleanup(func() {
		newApp = prev
		cfgFile = ""
	})
}

func execute(args ...string) (string, error) {
	return executeContext(context.Background(), args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestDryRunPrintsPendingOnly(t *testing.T) {
	fake := &fakeApp{
		items: []history.WorkItem{
			{URL: "https://www.youtube.com/watch?v=1", Time: "2023-01-01T00:00:00Z"},
			{URL: "https://www.youtube.com/watch?v=2", Time: "2023-01-02T00:00:00Z"},
		},
		done: map[string]bool{"https://www.youtube.com/watch?v=1": true},
	}
	useFakeApp(t, fake)

	out, err := execute("--dry-run", "--ledger-backend=memory")
	require.NoError(t, err)
	require.Equal(t, "2023-01-02T00:00:00Z\thttps://www.youtube.com/watch?v=2\n", out)
	require.Nil(t, fake.replayed)
	require.True(t, fake.closed)
	require.Equal(t, config.LedgerMemory, fake.cfg.Ledger.Backend)
}

func TestReplaySubcommandDispatches(t *testing.T) {
	fake := &fakeApp{items: []history.WorkItem{{URL: "u1"}, {URL: "u2"}}}
	useFakeApp(t, fake)

	_, err := execute("replay", "--concurrency=2", "--max-retries=4", "--exclude-shorts")
	require.NoError(t, err)
	require.Len(t, fake.replayed, 2)
	require.True(t, fake.closed)
	require.Equal(t, 2, fake.cfg.Replay.Concurrency)
	require.Equal(t, 4, fake.cfg.Replay.MaxRetries)
	require.True(t, fake.cfg.History.ExcludeShorts)
}

func TestResumeTimestampAlias(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute("--resume_timestamp=2024-02-01T00:00:00.000Z")
	require.NoError(t, err)
	require.Equal(t, "2024-02-01T00:00:00.000Z", fake.cfg.History.Cutoff)
}

func TestReplayErrorStillClosesApp(t *testing.T) {
	fake := &fakeApp{items: []history.WorkItem{{URL: "u1"}}, replayErr: errors.New("ledger i/o failure")}
	useFakeApp(t, fake)

	_, err := execute()
	require.ErrorContains(t, err, "ledger i/o failure")
	require.True(t, fake.closed)
}

func TestInvalidFlagsFailBeforeStartup(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute("--concurrency=0", "--cookie-file=c.txt", "--cookies-from-browser=firefox")
	require.ErrorContains(t, err, "replay.concurrency")
	require.ErrorContains(t, err, "mutually exclusive")
	require.False(t, fake.closed)
}

func TestInterruptedReplayFails(t *testing.T) {
	fake := &fakeApp{
		items:  []history.WorkItem{{URL: "u1"}, {URL: "u2"}, {URL: "u3"}},
		report: &dispatcher.Report{Total: 3, Dispatched: 3, Processed: 1, Canceled: 1},
	}
	useFakeApp(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := executeContext(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "2 urls still pending")
	require.True(t, fake.closed)
}

func TestCanceledAfterEveryOutcomeSucceeds(t *testing.T) {
	fake := &fakeApp{
		items:  []history.WorkItem{{URL: "u1"}},
		report: &dispatcher.Report{Total: 1, Dispatched: 1, Processed: 1},
	}
	useFakeApp(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := executeContext(ctx)
	require.NoError(t, err)
}

func TestHelpAndCompletionDoNotStartServices(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	out, err := execute("help")
	require.NoError(t, err)
	require.Contains(t, out, "yt-history-sync")

	out, err = execute("completion", "bash")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	_, err = execute("replay", "--help")
	require.NoError(t, err)

	require.Zero(t, fake.built)
	require.False(t, fake.closed)
}
