package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/types"
)

func TestSearchEventsFTS_MatchesDiffSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: time.Now(), Operation: types.OpModify, FilePath: "a.go",
		DiffSummary: "renamed helper function to parseConfig",
	}))
	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: time.Now(), Operation: types.OpModify, FilePath: "b.go",
		DiffSummary: "added retry loop",
	}))

	results, err := SearchEventsFTS(ctx, s.Path(), "parseConfig", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, types.SourceEvent, results[0].Source)
}

func TestSearchExchangesFTS_MatchesUserMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{
		ID: "ex-1", Timestamp: time.Now(), Project: "diachron",
		UserMessage: "how do I configure the retry backoff",
	}))
	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{
		ID: "ex-2", Timestamp: time.Now(), Project: "diachron",
		UserMessage: "explain the hash chain",
	}))

	results, err := SearchExchangesFTS(ctx, s.Path(), "backoff", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "ex-1", results[0].ID)
	require.Equal(t, types.SourceExchange, results[0].Source)
}

func TestSearchEventsFTS_NoMatchReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{Timestamp: time.Now(), Operation: types.OpCreate, DiffSummary: "initial commit"}))

	results, err := SearchEventsFTS(ctx, s.Path(), "nonexistentterm", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
