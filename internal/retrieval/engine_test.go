package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "diachron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, nil, nil, nil, 0, nil), s
}

func TestSearch_LexicalOnlyFindsMatch(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{
		ID: "ex-1", Timestamp: time.Now(), Project: "diachron",
		UserMessage: "how does the hash chain verify integrity",
	}))

	results, err := e.Search(ctx, "hash chain", 10, "", time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "ex-1", results[0].ID)
}

func TestSearch_SourceFilterExcludesOtherBranch(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{Timestamp: time.Now(), Operation: types.OpModify, DiffSummary: "retry logic added"}))
	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{ID: "ex-1", Timestamp: time.Now(), UserMessage: "retry logic discussion"}))

	results, err := e.Search(ctx, "retry", 10, types.SourceExchange, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, types.SourceExchange, results[0].Source)
}

func TestSearch_ProjectFilterExcludesNonMatching(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{ID: "ex-1", Project: "alpha", Timestamp: time.Now(), UserMessage: "fix the parser"}))
	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{ID: "ex-2", Project: "beta", Timestamp: time.Now(), UserMessage: "fix the parser too"}))

	results, err := e.Search(ctx, "parser", 10, "", time.Time{}, "alpha")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "ex-1", results[0].ID)
}

func TestSearch_SinceFilterExcludesOlderResults(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{ID: "ex-1", Timestamp: time.Now().AddDate(0, 0, -10), UserMessage: "old parser fix"}))
	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{ID: "ex-2", Timestamp: time.Now(), UserMessage: "new parser fix"}))

	results, err := e.Search(ctx, "parser", 10, "", time.Now().AddDate(0, 0, -1), "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "ex-2", results[0].ID)
}

func TestSearch_CacheInvalidatesOnWrite(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	results, err := e.Search(ctx, "parser", 10, "", time.Time{}, "")
	require.NoError(t, err)
	require.Empty(t, results)

	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{ID: "ex-1", Timestamp: time.Now(), UserMessage: "parser rewrite"}))

	results, err = e.Search(ctx, "parser", 10, "", time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestMergeResults_VectorWinsTies(t *testing.T) {
	vector := []types.SearchResult{{Source: types.SourceEvent, ID: "1", Score: 0.9}}
	lexical := []types.SearchResult{{Source: types.SourceEvent, ID: "1", Score: 5.0}}

	merged := mergeResults(vector, lexical)
	require.Len(t, merged, 1)
	require.Equal(t, 0.9, merged[0].Score)
}
