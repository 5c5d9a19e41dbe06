package evaluation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eval.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStoreRunRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	runID, err := store.BeginRun(ctx, "tasks.csv", "gemma3:27b", "gpt-oss:20b")
	require.NoError(t, err)
	require.Positive(t, runID)

	require.NoError(t, store.RecordResult(ctx, runID,
		Result{TaskID: "shortener", Score: 3, Reasoning: "on track", FinalReport: "# Report"},
		"eval-shortener-1", 90*time.Second))
	require.NoError(t, store.RecordResult(ctx, runID,
		Result{TaskID: "feed", Score: 5, Reasoning: "thorough", FinalReport: "# Report 2"},
		"eval-feed-2", 2*time.Minute))
	require.NoError(t, store.FinishRun(ctx, runID))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].RunID)
	require.Equal(t, "gemma3:27b", runs[0].CandidateModel)
	require.Equal(t, 2, runs[0].Tasks)
	require.InDelta(t, 4.0, runs[0].MeanScore, 0.001)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.BeginRun(ctx, "tasks.csv", "gemma3:27b", "gpt-oss:20b")
	require.NoError(t, err)
	require.NoError(t, store.RecordResult(ctx, first,
		Result{TaskID: "feed", Score: 1}, "eval-feed-1", time.Minute))

	second, err := store.BeginRun(ctx, "tasks.csv", "llama3:70b", "gpt-oss:20b")
	require.NoError(t, err)
	require.NoError(t, store.RecordResult(ctx, second,
		Result{TaskID: "feed", Score: 5}, "eval-feed-2", time.Minute))
	require.NoError(t, store.RecordResult(ctx, second,
		Result{TaskID: "shortener", Score: 3}, "eval-shortener-3", time.Minute))

	runs, err := store.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].RunID)
	require.Equal(t, "llama3:70b", runs[0].CandidateModel)
	require.InDelta(t, 4.0, runs[0].MeanScore, 0.001)
	require.Equal(t, first, runs[1].RunID)
	require.Equal(t, 1, runs[1].Tasks)

	limited, err := store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, second, limited[0].RunID)
}

func TestStoreReopenKeepsData(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	runID, err := store.BeginRun(ctx, "tasks.csv", "gemma3:27b", "gpt-oss:20b")
	require.NoError(t, err)
	require.NoError(t, store.RecordResult(ctx, runID,
		Result{TaskID: "feed", Score: 2}, "eval-feed-1", time.Minute))
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, 1, runs[0].Tasks)
	require.InDelta(t, 2.0, runs[0].MeanScore, 0.001)
}
