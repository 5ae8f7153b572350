package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/yt-history-sync/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Worker: -1},
		{RunID: runID, TS: now, Stage: progress.StageItemStart, URL: "good", Attempt: 1},
		{RunID: runID, TS: now, Stage: progress.StageItemProcessed, URL: "good", Attempt: 1, Dur: time.Second},
		{RunID: runID, TS: now, Stage: progress.StageItemStart, URL: "bad", Attempt: 1},
		{RunID: runID, TS: now, Stage: progress.StageItemRetry, URL: "bad", Attempt: 1},
		{RunID: runID, TS: now, Stage: progress.StageItemRetry, URL: "bad", Attempt: 2},
		{RunID: runID, TS: now, Stage: progress.StageItemFailed, URL: "bad", Attempt: 3, Dur: 5 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.itemsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("processed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("failed")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.attempts.WithLabelValues("failed")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.retries))
	require.Equal(t, 2, testutil.CollectAndCount(sink.itemDuration, "ytsync_item_duration_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Worker: -1, Dur: time.Minute},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Worker: -1, Dur: time.Minute},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
