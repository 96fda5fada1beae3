// Package fingerprint computes stable hunk fingerprints and matches them
// tier-by-tier (spec.md §4.3) so that blame survives whitespace changes,
// local edits, and — when embeddings are present — renames.
package fingerprint

import (
	"bufio"
	"crypto/sha256"
	"math"
	"strings"

	"github.com/diachron/diachron/internal/types"
)

// HunkFingerprint identifies a code region robustly across refactors.
type HunkFingerprint struct {
	ContentHash [types.HashSize]byte
	ContextHash [types.HashSize]byte // all-zero when no context was available
	Vector      []float32            // nil when no embedding was computed
}

// normalize strips trailing per-line whitespace only — no other
// normalization is performed, so identical normalized text always yields an
// identical hash across processes and runs (spec.md invariant 6).
func normalize(text string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(strings.TrimRight(scanner.Text(), " \t\r"))
	}
	return b.String()
}

func hashText(text string) [types.HashSize]byte {
	return sha256.Sum256([]byte(normalize(text)))
}

// Compute builds a HunkFingerprint from the hunk's own content, optional
// surrounding context (±5 lines, already extracted by the caller), and an
// optional semantic vector.
func Compute(content, context string, vector []float32) HunkFingerprint {
	fp := HunkFingerprint{ContentHash: hashText(content)}
	if context != "" {
		fp.ContextHash = hashText(context)
	}
	if len(vector) > 0 {
		fp.Vector = vector
	}
	return fp
}

// Candidate is a stored fingerprint paired with the event id it came from.
type Candidate struct {
	EventID     int64
	ContentHash [types.HashSize]byte
	ContextHash [types.HashSize]byte
	Vector      []float32
}

// Match is the outcome of tiered matching against a set of candidates.
type Match struct {
	EventID    int64
	Tier       types.MatchTier
	Similarity float64
}

var zeroHash [types.HashSize]byte

// cosine returns the cosine similarity of two equal-length vectors, or 0 if
// either is empty or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// lowTierThreshold is the minimum cosine similarity for a LOW-tier match
// (spec.md §4.3).
const lowTierThreshold = 0.85

// Find runs the tiered match described in spec.md §4.3: HIGH (content_hash
// equality) beats MEDIUM (context_hash equality, both non-zero) beats LOW
// (cosine similarity ≥ 0.85, highest cosine wins among ties).
func Find(target HunkFingerprint, candidates []Candidate) (Match, bool) {
	for _, c := range candidates {
		if c.ContentHash == target.ContentHash {
			return Match{EventID: c.EventID, Tier: types.TierHigh, Similarity: 1.0}, true
		}
	}

	if target.ContextHash != zeroHash {
		for _, c := range candidates {
			if c.ContextHash != zeroHash && c.ContextHash == target.ContextHash {
				return Match{EventID: c.EventID, Tier: types.TierMedium, Similarity: 0.95}, true
			}
		}
	}

	if len(target.Vector) > 0 {
		best := Match{}
		found := false
		for _, c := range candidates {
			sim := cosine(target.Vector, c.Vector)
			if sim >= lowTierThreshold && (!found || sim > best.Similarity) {
				best = Match{EventID: c.EventID, Tier: types.TierLow, Similarity: sim}
				found = true
			}
		}
		if found {
			return best, true
		}
	}

	return Match{}, false
}
