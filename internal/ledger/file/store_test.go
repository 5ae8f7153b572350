package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/yt-history-sync/internal/ledger"
)

func TestStoreCreatesFilesAndRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)

	processedPath, failedPath := store.Paths()
	require.Equal(t, filepath.Join(dir, DefaultProcessedFile), processedPath)
	require.Equal(t, filepath.Join(dir, DefaultFailedFile), failedPath)
	require.FileExists(t, processedPath)
	require.FileExists(t, failedPath)

	l, err := ledger.Open(context.Background(), store, nil)
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessed(context.Background(), "https://youtu.be/a"))
	require.NoError(t, l.MarkFailed(context.Background(), "https://youtu.be/bad"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(processedPath)
	require.NoError(t, err)
	require.Equal(t, "https://youtu.be/a\n", string(data))
	data, err = os.ReadFile(failedPath)
	require.NoError(t, err)
	require.Equal(t, "https://youtu.be/bad\n", string(data))

	// A second run sees both outcomes and never re-appends them.
	reopened, err := New(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	l2, err := ledger.Open(context.Background(), reopened, nil)
	require.NoError(t, err)
	require.True(t, l2.Contains("https://youtu.be/a"))
	require.True(t, l2.Contains("https://youtu.be/bad"))
	require.NoError(t, l2.MarkProcessed(context.Background(), "https://youtu.be/a"))
	require.NoError(t, l2.Close())

	data, err = os.ReadFile(processedPath)
	require.NoError(t, err)
	require.Equal(t, "https://youtu.be/a\n", string(data))
}

func TestStoreReadsLegacyExecutionHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	legacy := "https://youtu.be/1\n\n  https://youtu.be/2  \n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultProcessedFile), []byte(legacy), 0o600))

	store, err := New(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // test cleanup

	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []ledger.Entry{
		{URL: "https://youtu.be/1", Outcome: ledger.OutcomeProcessed},
		{URL: "https://youtu.be/2", Outcome: ledger.OutcomeProcessed},
	}, entries)
}

func TestStoreRepairsTornLastLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultProcessedFile)
	require.NoError(t, os.WriteFile(path, []byte("https://youtu.be/1\nhttps://yout"), 0o600))

	store, err := New(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "https://youtu.be/1", entries[0].URL)

	require.NoError(t, store.Append(context.Background(), ledger.Entry{
		URL:     "https://youtu.be/2",
		Outcome: ledger.OutcomeProcessed,
	}))
	require.NoError(t, store.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "https://youtu.be/1\nhttps://youtu.be/2\n", string(data))
}

func TestStoreConcurrentAppendsKeepWholeLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	l, err := ledger.Open(context.Background(), store, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, l.MarkProcessed(context.Background(), fmt.Sprintf("https://youtu.be/%03d", i)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	reopened, err := New(Config{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck // test cleanup
	entries, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 50)
	seen := map[string]bool{}
	for _, e := range entries {
		require.Len(t, e.URL, len("https://youtu.be/000"))
		seen[e.URL] = true
	}
	require.Len(t, seen, 50)
}

func TestStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := New(Config{Dir: dir, ProcessedFile: "same.log", FailedFile: "same.log"}, nil)
	require.ErrorContains(t, err, "must differ")

	store, err := New(Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // test cleanup
	require.Error(t, store.Append(context.Background(), ledger.Entry{URL: "a\nb", Outcome: ledger.OutcomeProcessed}))
	require.Error(t, store.Append(context.Background(), ledger.Entry{URL: "a", Outcome: "skipped"}))
}

func TestStoreUnwritableDirectoryFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := New(Config{Dir: blocker}, nil)
	require.Error(t, err)
}
