package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/types"
)

const helloFn = "fn hello(){ println!(\"Hello\"); }"

func TestFind_HighTierExactContent(t *testing.T) {
	target := Compute(helloFn, "", nil)
	same := Compute(helloFn, "", nil)
	different := Compute("fn goodbye(){ println!(\"Bye\"); }", "", nil)

	candidates := []Candidate{
		{EventID: 1, ContentHash: same.ContentHash, ContextHash: same.ContextHash},
		{EventID: 2, ContentHash: different.ContentHash, ContextHash: different.ContextHash},
	}

	match, ok := Find(target, candidates)
	require.True(t, ok)
	require.EqualValues(t, 1, match.EventID)
	require.Equal(t, types.TierHigh, match.Tier)
	require.Equal(t, 1.0, match.Similarity)
}

func TestFind_MediumTierContextOnly(t *testing.T) {
	context := "func main() {\n\thello()\n}"
	target := Compute(helloFn+" // moved", context, nil)
	candidate := Compute("fn hello(){ println!(\"Hi\"); }", context, nil)

	candidates := []Candidate{
		{EventID: 7, ContentHash: candidate.ContentHash, ContextHash: candidate.ContextHash},
	}

	match, ok := Find(target, candidates)
	require.True(t, ok)
	require.EqualValues(t, 7, match.EventID)
	require.Equal(t, types.TierMedium, match.Tier)
	require.Equal(t, 0.95, match.Similarity)
}

func TestFind_LowTierSemantic(t *testing.T) {
	target := HunkFingerprint{Vector: []float32{1, 0, 0}}
	candidates := []Candidate{
		{EventID: 1, Vector: []float32{0, 1, 0}},        // orthogonal, below threshold
		{EventID: 2, Vector: []float32{0.9, 0.1, 0}},     // close match
		{EventID: 3, Vector: []float32{0.95, 0.05, 0.05}}, // closer match
	}

	match, ok := Find(target, candidates)
	require.True(t, ok)
	require.Equal(t, types.TierLow, match.Tier)
	require.EqualValues(t, 3, match.EventID)
	require.GreaterOrEqual(t, match.Similarity, lowTierThreshold)
}

func TestFind_NoMatch(t *testing.T) {
	target := Compute(helloFn, "", []float32{1, 0, 0})
	candidates := []Candidate{
		{EventID: 1, ContentHash: Compute("totally different", "", nil).ContentHash, Vector: []float32{0, 1, 0}},
	}

	_, ok := Find(target, candidates)
	require.False(t, ok)
}

func TestFind_EmptyCandidates(t *testing.T) {
	target := Compute(helloFn, "", nil)
	_, ok := Find(target, nil)
	require.False(t, ok)
}

func TestNormalize_StripsTrailingWhitespaceOnly(t *testing.T) {
	a := Compute("line one   \nline two\t\n", "", nil)
	b := Compute("line one\nline two", "", nil)
	require.Equal(t, a.ContentHash, b.ContentHash)
}

func TestNormalize_PreservesLeadingWhitespaceAndContent(t *testing.T) {
	a := Compute("    indented\nline", "", nil)
	b := Compute("indented\nline", "", nil)
	require.NotEqual(t, a.ContentHash, b.ContentHash)
}

func TestCompute_NoContextLeavesZeroHash(t *testing.T) {
	fp := Compute(helloFn, "", nil)
	require.Equal(t, zeroHash, fp.ContextHash)
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(helloFn, "context", []float32{0.1, 0.2})
	b := Compute(helloFn, "context", []float32{0.1, 0.2})
	require.Equal(t, a.ContentHash, b.ContentHash)
	require.Equal(t, a.ContextHash, b.ContextHash)
}
