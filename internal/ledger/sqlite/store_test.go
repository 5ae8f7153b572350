package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/yt-history-sync/internal/ledger"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.db")

	store, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	l, err := ledger.Open(ctx, store, nil)
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessed(ctx, "https://youtu.be/a"))
	require.NoError(t, l.MarkFailed(ctx, "https://youtu.be/b"))
	require.NoError(t, l.Close())

	reopened, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck // test cleanup

	entries, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byURL := map[string]ledger.Entry{}
	for _, e := range entries {
		byURL[e.URL] = e
	}
	require.Equal(t, ledger.OutcomeProcessed, byURL["https://youtu.be/a"].Outcome)
	require.Equal(t, ledger.OutcomeFailed, byURL["https://youtu.be/b"].Outcome)
	require.False(t, byURL["https://youtu.be/a"].RecordedAt.IsZero())
}

func TestStoreAppendIgnoresExistingURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := New(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck // test cleanup

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, ledger.Entry{URL: "u", Outcome: ledger.OutcomeFailed, RecordedAt: now}))
	require.NoError(t, store.Append(ctx, ledger.Entry{URL: "u", Outcome: ledger.OutcomeProcessed, RecordedAt: now}))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []ledger.Entry{{URL: "u", Outcome: ledger.OutcomeFailed, RecordedAt: now}}, entries)

	require.Error(t, store.Append(ctx, ledger.Entry{URL: "v", Outcome: "skipped"}))
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "path is required")
}
