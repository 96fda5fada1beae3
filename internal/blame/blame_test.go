package blame

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/fingerprint"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "diachron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolve_HighTierExactContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fp := fingerprint.Compute("func hello() {}", "", nil)
	e := &types.Event{Timestamp: time.Now(), FilePath: "main.go", ToolName: "Edit",
		Operation: types.OpModify, ContentHash: &fp.ContentHash, ContextHash: &fp.ContextHash}
	require.NoError(t, s.SaveEvent(ctx, e))

	r := New(s, nil, nil)
	match, notFound := r.Resolve(ctx, Query{FilePath: "main.go", Content: "func hello() {}", Mode: types.BlameStrict})
	require.Nil(t, notFound)
	require.NotNil(t, match)
	require.Equal(t, types.TierHigh, match.MatchType)
	require.Equal(t, e.ID, match.Event.ID)
}

func TestResolve_StrictModeRejectsMediumTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	context := "surrounding context lines"
	stored := fingerprint.Compute("original content", context, nil)
	e := &types.Event{Timestamp: time.Now(), FilePath: "main.go", ToolName: "Edit",
		Operation: types.OpModify, ContentHash: &stored.ContentHash, ContextHash: &stored.ContextHash}
	require.NoError(t, s.SaveEvent(ctx, e))

	r := New(s, nil, nil)
	match, notFound := r.Resolve(ctx, Query{
		FilePath: "main.go", Content: "edited content", Context: context, Mode: types.BlameStrict,
	})
	require.Nil(t, match)
	require.NotNil(t, notFound)
}

func TestResolve_BestEffortAcceptsMediumTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	context := "surrounding context lines"
	stored := fingerprint.Compute("original content", context, nil)
	e := &types.Event{Timestamp: time.Now(), FilePath: "main.go", ToolName: "Edit",
		Operation: types.OpModify, ContentHash: &stored.ContentHash, ContextHash: &stored.ContextHash}
	require.NoError(t, s.SaveEvent(ctx, e))

	r := New(s, nil, nil)
	match, notFound := r.Resolve(ctx, Query{
		FilePath: "main.go", Content: "edited content", Context: context, Mode: types.BlameBestEffort,
	})
	require.Nil(t, notFound)
	require.NotNil(t, match)
	require.Equal(t, types.TierMedium, match.MatchType)
}

func TestResolve_InferredFallsBackToFilePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored := fingerprint.Compute("totally unrelated content", "", nil)
	e := &types.Event{Timestamp: time.Now(), FilePath: "main.go", ToolName: "Edit",
		Operation: types.OpModify, ContentHash: &stored.ContentHash, ContextHash: &stored.ContextHash}
	require.NoError(t, s.SaveEvent(ctx, e))

	r := New(s, nil, nil)
	match, notFound := r.Resolve(ctx, Query{
		FilePath: "main.go", Content: "brand new content", Mode: types.BlameInferred,
	})
	require.Nil(t, notFound)
	require.NotNil(t, match)
	require.Equal(t, types.TierInferred, match.MatchType)
	require.Equal(t, 0.5, match.Similarity)
}

func TestResolve_NoEventsForFileReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil, nil)
	match, notFound := r.Resolve(context.Background(), Query{FilePath: "missing.go", Mode: types.BlameInferred})
	require.Nil(t, match)
	require.NotNil(t, notFound)
}

func TestResolve_IntentExtractedFromScoredExchange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fp := fingerprint.Compute("func hello() {}", "", nil)
	e := &types.Event{
		Timestamp: now, FilePath: "main.go", ToolName: "Edit", SessionID: "s1",
		Operation: types.OpModify, ContentHash: &fp.ContentHash, ContextHash: &fp.ContextHash,
	}
	require.NoError(t, s.SaveEvent(ctx, e))

	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{
		ID: "ex-low", Timestamp: now.Add(-time.Minute), SessionID: "s1",
		UserMessage: "something irrelevant.",
	}))
	require.NoError(t, s.SaveExchange(ctx, &types.Exchange{
		ID: "ex-high", Timestamp: now.Add(-30 * time.Second), SessionID: "s1",
		UserMessage: "Please fix the bug in main.go. It crashes on startup.",
		ToolCalls:   `["Edit"]`,
	}))

	r := New(s, nil, nil)
	match, notFound := r.Resolve(ctx, Query{FilePath: "main.go", Content: "func hello() {}", Mode: types.BlameStrict})
	require.Nil(t, notFound)
	require.Equal(t, "Please fix the bug in main.go.", match.Intent)
}

func TestFirstSentence_StripsTagsAndFences(t *testing.T) {
	text := "<system-reminder>ignore this</system-reminder>Fix the parser bug. ```go\ncode\n```"
	got := firstSentence(text)
	require.Equal(t, "Fix the parser bug.", got)
}

func TestFirstSentence_TruncatesAtWordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 40) + "done"
	got := firstSentence(long)
	require.LessOrEqual(t, len([]rune(got)), maxIntentChars)
	require.True(t, strings.HasSuffix(got, "…"))
}

func TestScoreExchange_RubricAddsUp(t *testing.T) {
	ex := &types.Exchange{UserMessage: "fix main.go please", ToolCalls: `["Edit"]`, GitBranch: "main"}
	require.Equal(t, 6, scoreExchange(ex, "main.go", "Edit", "main"))
}

func TestTierAllowed_GatesByMode(t *testing.T) {
	require.True(t, tierAllowed(types.BlameStrict, types.TierHigh))
	require.False(t, tierAllowed(types.BlameStrict, types.TierMedium))
	require.True(t, tierAllowed(types.BlameBestEffort, types.TierMedium))
	require.False(t, tierAllowed(types.BlameBestEffort, types.TierLow))
	require.True(t, tierAllowed(types.BlameInferred, types.TierLow))
}
