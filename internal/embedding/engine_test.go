package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate_ShortStringUnchanged(t *testing.T) {
	require.Equal(t, "hello", truncate("hello", 2000))
}

func TestTruncate_BacksOffToRuneBoundary(t *testing.T) {
	s := "日本語" // 3 runes, 3 bytes each in UTF-8
	got := truncate(s, 4)
	require.True(t, len(got) <= 4)
	require.Equal(t, "日", got)
}

func TestMeanPoolAndNormalize_UnitLength(t *testing.T) {
	hidden := []float32{1, 2, 3, 4, 5, 6} // 2 positions, dim 3
	mask := []int64{1, 1}

	vec := meanPoolAndNormalize(hidden, mask, 2, 3)
	require.Len(t, vec, 3)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, norm, 1e-5)
}

func TestMeanPoolAndNormalize_IgnoresMaskedPositions(t *testing.T) {
	hidden := []float32{1, 0, 0, 100, 100, 100} // position 1 is padding
	mask := []int64{1, 0}

	vec := meanPoolAndNormalize(hidden, mask, 2, 3)
	// Only position 0 contributes; normalized, it's a unit vector along x.
	require.InDelta(t, 1.0, vec[0], 1e-5)
	require.InDelta(t, 0.0, vec[1], 1e-5)
	require.InDelta(t, 0.0, vec[2], 1e-5)
}

func TestMeanPoolAndNormalize_FullyMaskedStillNormalizes(t *testing.T) {
	// No unmasked positions: the first position's raw (unpooled) hidden
	// state is used as-is before L2-normalization.
	hidden := []float32{3, 4, 0}
	mask := []int64{0}

	vec := meanPoolAndNormalize(hidden, mask, 1, 3)
	require.InDelta(t, 0.6, vec[0], 1e-5)
	require.InDelta(t, 0.8, vec[1], 1e-5)
	require.InDelta(t, 0.0, vec[2], 1e-5)
}
