package prcorrelate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func TestCorrelate_DirectMatchClaimsEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now, ToolName: "Edit", FilePath: "main.go",
		Operation: types.OpModify, GitCommitSHA: "abc123", SessionID: "s1",
		DiffSummary: "+5 lines, -2 lines",
	}))

	pack, err := Correlate(ctx, s, types.CorrelateRequest{
		PRID: "pr-1", Commits: []string{"abc123"},
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, pack.Commits, 1)
	require.Equal(t, []int64{1}, pack.Commits[0].Direct)
	require.Equal(t, 100.0, pack.CoveragePct)
	require.Equal(t, 0, pack.UnmatchedCount)
	require.Equal(t, 5, pack.Summary.LinesAdded)
	require.Equal(t, 2, pack.Summary.LinesRemoved)
}

func TestCorrelate_SessionTierClaimsSiblingEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now, ToolName: "Bash", Operation: types.OpCommit,
		GitCommitSHA: "abc123", SessionID: "s1",
	}))
	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now.Add(-time.Minute), ToolName: "Edit", FilePath: "a.go",
		Operation: types.OpModify, SessionID: "s1",
	}))

	pack, err := Correlate(ctx, s, types.CorrelateRequest{
		PRID: "pr-1", Commits: []string{"abc123"},
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, pack.Commits[0].Session)
}

func TestCorrelate_TemporalTierRespectsWindowAndBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now, ToolName: "Bash", Operation: types.OpCommit,
		GitCommitSHA: "abc123", SessionID: "s1",
		Metadata: types.EventMetadata{GitBranch: "main"},
	}))
	// within window, same branch, different session -> LOW
	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now.Add(-100 * time.Second), ToolName: "Edit", FilePath: "b.go",
		Operation: types.OpModify, SessionID: "s2",
		Metadata: types.EventMetadata{GitBranch: "main"},
	}))
	// outside window
	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now.Add(-400 * time.Second), ToolName: "Edit", FilePath: "c.go",
		Operation: types.OpModify, SessionID: "s3",
		Metadata: types.EventMetadata{GitBranch: "main"},
	}))
	// wrong branch
	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now.Add(-50 * time.Second), ToolName: "Edit", FilePath: "d.go",
		Operation: types.OpModify, SessionID: "s4",
		Metadata: types.EventMetadata{GitBranch: "other"},
	}))

	pack, err := Correlate(ctx, s, types.CorrelateRequest{
		PRID: "pr-1", Commits: []string{"abc123"}, Branch: "main",
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, pack.Commits[0].Temporal)
	require.Equal(t, 2, pack.UnmatchedCount)
}

func TestCorrelate_FirstClaimWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now, ToolName: "Bash", Operation: types.OpCommit,
		GitCommitSHA: "sha-1", SessionID: "s1",
	}))
	require.NoError(t, s.SaveEvent(ctx, &types.Event{
		Timestamp: now.Add(time.Second), ToolName: "Bash", Operation: types.OpCommit,
		GitCommitSHA: "sha-2", SessionID: "s1",
	}))

	pack, err := Correlate(ctx, s, types.CorrelateRequest{
		PRID: "pr-1", Commits: []string{"sha-1", "sha-2"},
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, pack.Commits[0].Direct)
	require.Equal(t, []int64{2}, pack.Commits[1].Direct)
	require.Empty(t, pack.Commits[1].Session)
}

func TestCorrelate_NoEventsInWindowGivesFullCoverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pack, err := Correlate(ctx, s, types.CorrelateRequest{
		PRID: "pr-1", Commits: []string{"abc123"},
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, pack.CoveragePct)
	require.Equal(t, 0, pack.TotalEvents)
}

func TestRenderMarkdown_ContainsHeaderShaShortAndCheckboxes(t *testing.T) {
	pack := types.EvidencePack{
		PRID:    "142",
		Intent:  "Fix the 401 errors on page refresh",
		Summary: types.EvidenceSummary{FilesChanged: []string{"src/auth.go"}, LinesAdded: 45, LinesRemoved: 10},
		Commits: []types.CommitEvidence{
			{SHA: "abc1234567890", Direct: []int64{1, 2}},
		},
		Verification: types.EvidenceVerification{ChainVerified: true, TestsExecuted: true},
		CoveragePct:  100.0,
	}

	md := RenderMarkdown(pack)

	require.Contains(t, md, "## PR #142")
	require.Contains(t, md, "abc1234")
	require.NotContains(t, md, "abc1234567890")
	require.Contains(t, md, "Fix the 401 errors on page refresh")
	require.Contains(t, md, "[x] Hash chain integrity")
	require.Contains(t, md, "[x] Tests executed after changes")
	require.Contains(t, md, "[ ] Build succeeded")
	require.Contains(t, md, "[ ] Human review")
}

func TestParseDiffLines_MatchesConvention(t *testing.T) {
	added, removed := parseDiffLines("+12 lines, -3 lines")
	require.Equal(t, 12, added)
	require.Equal(t, 3, removed)

	added, removed = parseDiffLines("no diff info")
	require.Equal(t, 0, added)
	require.Equal(t, 0, removed)
}
