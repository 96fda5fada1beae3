// Package prcorrelate attributes captured events to pull-request commits
// in three tiers of confidence and assembles the resulting provenance
// evidence pack (spec.md §4.8).
package prcorrelate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/diachron/diachron/internal/hashchain"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/version"
)

// temporalWindow is the ±300s band the Temporal (LOW) tier matches within.
const temporalWindow = 300 * time.Second

// diffLineRE parses the "+N lines, -M lines" convention diff_summary uses.
var diffLineRE = regexp.MustCompile(`\+(\d+) lines?, -(\d+) lines?`)

// Correlate builds the evidence pack for req.PRID.
func Correlate(ctx context.Context, store *storage.Store, req types.CorrelateRequest) (types.EvidencePack, error) {
	pool, err := store.QueryEventsInRange(ctx, req.StartTime, req.EndTime)
	if err != nil {
		return types.EvidencePack{}, fmt.Errorf("prcorrelate: query events in range: %w", err)
	}

	claimed := make(map[int64]bool, len(pool))
	commits := correlateAll(req.Commits, req.Branch, pool, claimed)

	unmatched := 0
	var claimedEvents []*types.Event
	for _, e := range pool {
		if claimed[e.ID] {
			claimedEvents = append(claimedEvents, e)
		} else {
			unmatched++
		}
	}

	verifyResult, err := store.Verify(ctx)
	if err != nil {
		return types.EvidencePack{}, fmt.Errorf("prcorrelate: verify chain: %w", err)
	}

	pack := types.EvidencePack{
		PRID:            req.PRID,
		GeneratedAt:     time.Now().UTC(),
		DiachronVersion: version.Version,
		Branch:          req.Branch,
		Summary:         summarize(claimedEvents),
		Commits:         commits,
		Verification:    verification(claimedEvents, verifyResult),
		Intent:          req.Intent,
		CoveragePct:     coverage(len(claimedEvents), len(pool)),
		UnmatchedCount:  unmatched,
		TotalEvents:     len(pool),
	}
	return pack, nil
}

// commitState accumulates one commit's match state across the three tier
// passes below.
type commitState struct {
	sha       string
	sessions  map[string]bool
	anchor    time.Time
	hasAnchor bool
	direct    []int64
	session   []int64
	temporal  []int64
}

// correlateAll runs the three tiers as three global passes over the shared
// candidate pool — Direct for every commit, then Session for every commit,
// then Temporal for every commit — so a stronger tier for commit B can
// never be pre-empted by a weaker tier claimed while processing commit A
// first. Within a tier, commits are processed in req.Commits order, and an
// event already claimed by an earlier commit is skipped (first claim
// wins, spec.md §4.8).
func correlateAll(shas []string, branch string, pool []*types.Event, claimed map[int64]bool) []types.CommitEvidence {
	states := make([]*commitState, len(shas))
	for i, sha := range shas {
		states[i] = &commitState{sha: sha, sessions: make(map[string]bool)}
	}

	for _, st := range states {
		for _, e := range pool {
			if claimed[e.ID] || e.GitCommitSHA != st.sha {
				continue
			}
			claimed[e.ID] = true
			st.direct = append(st.direct, e.ID)
			if !st.hasAnchor || e.Timestamp.Before(st.anchor) {
				st.anchor, st.hasAnchor = e.Timestamp, true
			}
			if e.SessionID != "" {
				st.sessions[e.SessionID] = true
			}
		}
	}

	for _, st := range states {
		if !st.hasAnchor {
			continue
		}
		for _, e := range pool {
			if claimed[e.ID] || !st.sessions[e.SessionID] {
				continue
			}
			claimed[e.ID] = true
			st.session = append(st.session, e.ID)
		}
	}

	for _, st := range states {
		if !st.hasAnchor {
			continue
		}
		for _, e := range pool {
			if claimed[e.ID] {
				continue
			}
			if !branchMatches(branch, e.Metadata.GitBranch) {
				continue
			}
			if e.Timestamp.After(st.anchor) || st.anchor.Sub(e.Timestamp) > temporalWindow {
				continue
			}
			claimed[e.ID] = true
			st.temporal = append(st.temporal, e.ID)
		}
	}

	out := make([]types.CommitEvidence, len(states))
	for i, st := range states {
		out[i] = types.CommitEvidence{SHA: st.sha, Direct: st.direct, Session: st.session, Temporal: st.temporal}
	}
	return out
}

// branchMatches treats a missing branch on either side as permissive,
// per spec.md §4.8's "same branch, or permissive if absent."
func branchMatches(want, got string) bool {
	if want == "" || got == "" {
		return true
	}
	return want == got
}

func coverage(matched, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(matched) / float64(total) * 100
}

func summarize(events []*types.Event) types.EvidenceSummary {
	files := make(map[string]bool)
	sessions := make(map[string]bool)
	var added, removed int

	for _, e := range events {
		if e.FilePath != "" {
			files[e.FilePath] = true
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = true
		}
		a, r := parseDiffLines(e.DiffSummary)
		added += a
		removed += r
	}

	fileList := make([]string, 0, len(files))
	for f := range files {
		fileList = append(fileList, f)
	}
	sort.Strings(fileList)

	return types.EvidenceSummary{
		FilesChanged:     fileList,
		LinesAdded:       added,
		LinesRemoved:     removed,
		OperationCount:   len(events),
		DistinctSessions: len(sessions),
	}
}

func parseDiffLines(summary string) (added, removed int) {
	m := diffLineRE.FindStringSubmatch(summary)
	if m == nil {
		return 0, 0
	}
	added, _ = strconv.Atoi(m[1])
	removed, _ = strconv.Atoi(m[2])
	return added, removed
}

func verification(events []*types.Event, verifyResult hashchain.VerifyResult) types.EvidenceVerification {
	v := types.EvidenceVerification{ChainVerified: verifyResult.Valid}
	for _, e := range events {
		if e.ToolName != "Bash" {
			continue
		}
		switch e.Metadata.CommandCategory {
		case types.CategoryTest:
			v.TestsExecuted = true
		case types.CategoryBuild:
			v.BuildSucceeded = true
		}
	}
	return v
}

// checkbox renders a Markdown task-list box.
func checkbox(set bool) string {
	if set {
		return "x"
	}
	return " "
}

// shortSHA truncates a commit SHA to its first 7 characters, the
// convention `git log --oneline` and GitHub's UI both use, without
// panicking on shorter test fixtures.
func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// RenderMarkdown renders an evidence pack as the PR-comment narrative
// spec.md §4.8 describes: a `## PR #<id>` header, the intent as a
// blockquote, the change summary, a per-commit evidence trail keyed by
// match tier, and a checklist of the verification facts.
func RenderMarkdown(pack types.EvidencePack) string {
	var md strings.Builder

	fmt.Fprintf(&md, "## PR #%s: AI Provenance Evidence\n\n", pack.PRID)

	if pack.Intent != "" {
		md.WriteString("### Intent\n")
		fmt.Fprintf(&md, "> %s\n\n", pack.Intent)
	}

	md.WriteString("### What Changed\n")
	fmt.Fprintf(&md, "- **Files modified**: %d\n", len(pack.Summary.FilesChanged))
	fmt.Fprintf(&md, "- **Lines**: +%d / -%d\n", pack.Summary.LinesAdded, pack.Summary.LinesRemoved)
	fmt.Fprintf(&md, "- **Tool operations**: %d\n", pack.Summary.OperationCount)
	fmt.Fprintf(&md, "- **Sessions**: %d\n\n", pack.Summary.DistinctSessions)

	md.WriteString("### Evidence Trail\n")
	fmt.Fprintf(&md, "- **Coverage**: %.1f%% of events matched to commits", pack.CoveragePct)
	if pack.UnmatchedCount > 0 {
		fmt.Fprintf(&md, " (%d unmatched)", pack.UnmatchedCount)
	}
	md.WriteString("\n")

	for _, c := range pack.Commits {
		fmt.Fprintf(&md, "\n**Commit `%s`**\n", shortSHA(c.SHA))
		if n := len(c.Direct); n > 0 {
			fmt.Fprintf(&md, "  - %d event(s) at direct confidence\n", n)
		}
		if n := len(c.Session); n > 0 {
			fmt.Fprintf(&md, "  - %d event(s) at session confidence\n", n)
		}
		if n := len(c.Temporal); n > 0 {
			fmt.Fprintf(&md, "  - %d event(s) at temporal confidence\n", n)
		}
	}
	md.WriteString("\n")

	md.WriteString("### Verification\n")
	fmt.Fprintf(&md, "- [%s] Hash chain integrity\n", checkbox(pack.Verification.ChainVerified))
	fmt.Fprintf(&md, "- [%s] Tests executed after changes\n", checkbox(pack.Verification.TestsExecuted))
	fmt.Fprintf(&md, "- [%s] Build succeeded\n", checkbox(pack.Verification.BuildSucceeded))
	fmt.Fprintf(&md, "- [%s] Human review\n", checkbox(pack.Verification.HumanReviewed))

	return md.String()
}
