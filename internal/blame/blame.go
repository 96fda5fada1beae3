// Package blame resolves a line of code back to the event that produced
// it, tolerating edits, whitespace drift, and renames (spec.md §4.9).
package blame

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/diachron/diachron/internal/embedding"
	"github.com/diachron/diachron/internal/fingerprint"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/vectorindex"
)

// maxCandidateEvents bounds how far back the file's history is searched
// (spec.md §4.9 step 1).
const maxCandidateEvents = 100

// maxIntentExchanges is how many prior exchanges in the event's session are
// considered for intent extraction (spec.md §4.9 step 5).
const maxIntentExchanges = 5

// inferredSimilarity is the fixed confidence reported for the file-path
// fallback tier, which has no fingerprint backing it.
const inferredSimilarity = 0.5

// maxIntentChars caps the extracted intent sentence, word-boundary
// truncated with a trailing ellipsis.
const maxIntentChars = 150

// Resolver answers blame queries against the event store.
type Resolver struct {
	store      *storage.Store
	embedder   *embedding.Engine // optional; nil disables LOW-tier vector matching
	eventIndex *vectorindex.Index // optional; nil disables LOW-tier vector matching
}

// New builds a Resolver. embedder and eventIndex may be nil, in which case
// fingerprint matching degrades to the HIGH/MEDIUM hash tiers only.
func New(store *storage.Store, embedder *embedding.Engine, eventIndex *vectorindex.Index) *Resolver {
	return &Resolver{store: store, embedder: embedder, eventIndex: eventIndex}
}

// Query is one blame lookup's input (spec.md §4.9).
type Query struct {
	FilePath   string
	LineNumber int
	Content    string
	Context    string
	Mode       types.BlameMode
}

// Resolve runs the tiered blame match described in spec.md §4.9. Exactly
// one of the two return values is non-nil.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*types.BlameMatch, *types.BlameNotFound) {
	events, err := r.store.QueryEventsForFile(ctx, q.FilePath, maxCandidateEvents)
	if err != nil {
		return nil, &types.BlameNotFound{Reason: fmt.Sprintf("querying events for %s: %v", q.FilePath, err)}
	}
	if len(events) == 0 {
		return nil, &types.BlameNotFound{Reason: fmt.Sprintf("no events recorded for %s", q.FilePath)}
	}

	target := r.computeTarget(q.Content, q.Context)

	ids := make([]int64, len(events))
	byID := make(map[int64]*types.Event, len(events))
	for i, e := range events {
		ids[i] = e.ID
		byID[e.ID] = e
	}

	candidates, err := r.store.GetEventFingerprints(ctx, ids)
	if err != nil {
		return nil, &types.BlameNotFound{Reason: fmt.Sprintf("loading fingerprints: %v", err)}
	}
	if r.eventIndex != nil {
		for i := range candidates {
			if v, ok := r.eventIndex.Get(fmt.Sprintf("event:%d", candidates[i].EventID)); ok {
				candidates[i].Vector = v
			}
		}
	}

	match, ok := fingerprint.Find(target, candidates)

	var event *types.Event
	var tier types.MatchTier
	var similarity float64

	switch {
	case ok && tierAllowed(q.Mode, match.Tier):
		event = byID[match.EventID]
		tier = match.Tier
		similarity = match.Similarity
	case q.Mode == types.BlameInferred:
		// File-path fallback: no fingerprint cleared the gate, but
		// inferred mode still reports the most recent touch to the file.
		event = events[0]
		tier = types.TierInferred
		similarity = inferredSimilarity
	default:
		return nil, &types.BlameNotFound{Reason: fmt.Sprintf("no match within %s mode's confidence gate", q.Mode)}
	}

	intent := r.extractIntent(ctx, q, event)
	return &types.BlameMatch{
		Event:      event,
		Confidence: similarity,
		MatchType:  tier,
		Similarity: similarity,
		Intent:     intent,
	}, nil
}

// computeTarget builds the query's fingerprint, attaching an embedding
// vector when an embedder is wired (LOW-tier matching degrades gracefully
// without one).
func (r *Resolver) computeTarget(content, surrounding string) fingerprint.HunkFingerprint {
	var vector []float32
	if r.embedder != nil {
		if v, err := r.embedder.Embed(content); err == nil {
			vector = v
		}
	}
	return fingerprint.Compute(content, surrounding, vector)
}

// tierAllowed applies spec.md §4.9's mode gate.
func tierAllowed(mode types.BlameMode, tier types.MatchTier) bool {
	switch mode {
	case types.BlameStrict:
		return tier == types.TierHigh
	case types.BlameBestEffort:
		return tier == types.TierHigh || tier == types.TierMedium
	case types.BlameInferred:
		return true
	default:
		return false
	}
}

// extractIntent recovers the human ask behind event by scoring nearby
// exchanges in the same session and pulling the first sentence of the
// winner's user message (spec.md §4.9 step 5).
func (r *Resolver) extractIntent(ctx context.Context, q Query, event *types.Event) string {
	if event.SessionID == "" {
		return ""
	}
	exchanges, err := r.store.QueryExchangesForIntent(ctx, event.SessionID, event.Timestamp, maxIntentExchanges)
	if err != nil || len(exchanges) == 0 {
		return ""
	}

	var best *types.Exchange
	bestScore := -1
	for _, ex := range exchanges {
		score := scoreExchange(ex, q.FilePath, event.ToolName, event.Metadata.GitBranch)
		if score > bestScore {
			bestScore = score
			best = ex
		}
	}
	if best == nil {
		return ""
	}
	return firstSentence(best.UserMessage)
}

// scoreExchange implements spec.md §4.9 step 5's scoring rubric.
func scoreExchange(ex *types.Exchange, filePath, toolName, branch string) int {
	score := 0
	if filePath != "" {
		base := path.Base(filePath)
		if strings.Contains(ex.UserMessage, filePath) || (base != "" && strings.Contains(ex.UserMessage, base)) {
			score += 3
		}
	}
	if toolName != "" && strings.Contains(ex.ToolCalls, toolName) {
		score += 2
	}
	if branch != "" && ex.GitBranch == branch {
		score += 1
	}
	return score
}

var (
	fencedCodeRE  = regexp.MustCompile("(?s)```.*?```")
	looseTagRE    = regexp.MustCompile(`(?s)<[^>]*>`)
	sentenceEndRE = regexp.MustCompile(`[.!?](\s|$)`)
)

// firstSentence returns the first non-tag, non-fenced, non-empty sentence
// of text, truncated at a word boundary to maxIntentChars with a trailing
// ellipsis (spec.md §4.9 step 5). A period is only treated as a sentence
// end when followed by whitespace or end-of-string, so filenames like
// "main.go" don't split mid-word.
func firstSentence(text string) string {
	cleaned := stripNoise(text)
	for {
		cleaned = strings.TrimLeft(cleaned, " \t\r\n")
		if cleaned == "" {
			return ""
		}
		sentence, rest := splitFirstSentence(cleaned)
		sentence = strings.TrimSpace(sentence)
		if sentence != "" {
			return truncateToWordBoundary(sentence, maxIntentChars)
		}
		if rest == "" {
			return ""
		}
		cleaned = rest
	}
}

// splitFirstSentence peels the first sentence off cleaned, preferring
// whichever comes first: a sentence-ending punctuation mark or a newline.
func splitFirstSentence(cleaned string) (sentence, rest string) {
	nlIdx := strings.IndexByte(cleaned, '\n')
	loc := sentenceEndRE.FindStringIndex(cleaned)

	switch {
	case loc == nil && nlIdx == -1:
		return cleaned, ""
	case loc == nil:
		return cleaned[:nlIdx], cleaned[nlIdx+1:]
	case nlIdx != -1 && nlIdx < loc[0]:
		return cleaned[:nlIdx], cleaned[nlIdx+1:]
	default:
		end := loc[0] + 1 // include the punctuation, exclude the trailing space it matched
		return cleaned[:end], cleaned[end:]
	}
}

// stripNoise removes fenced code blocks and XML-ish tag blocks (the
// <system-reminder> style markers conversation archives embed in user
// messages) before sentence extraction runs.
func stripNoise(text string) string {
	text = fencedCodeRE.ReplaceAllString(text, " ")
	// Strip matched <tag>...</tag> pairs by name, since Go's RE2 engine
	// has no backreferences to match a literal closing tag generically.
	for _, tag := range []string{"system-reminder", "thinking", "tool_use", "tool_result"} {
		re := regexp.MustCompile(`(?s)<` + tag + `[^>]*>.*?</` + tag + `>`)
		text = re.ReplaceAllString(text, " ")
	}
	text = looseTagRE.ReplaceAllString(text, " ")
	return text
}

// truncateToWordBoundary trims s to at most maxChars runes, cutting back to
// the preceding space and appending an ellipsis when it had to cut.
func truncateToWordBoundary(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	cut := r[:maxChars-1]
	if i := strings.LastIndexByte(string(cut), ' '); i > 0 {
		cut = []rune(string(cut)[:i])
	}
	return strings.TrimRight(string(cut), " ") + "…"
}
