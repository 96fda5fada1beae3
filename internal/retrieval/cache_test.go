package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/types"
)

func TestResultCache_GetMissThenHit(t *testing.T) {
	c := newResultCache(4)
	key := cacheKey("q", 10, "", "", "", 0)

	_, ok := c.get(key)
	require.False(t, ok)

	want := []types.SearchResult{{Source: types.SourceEvent, ID: "1"}}
	c.set(key, want)

	got, ok := c.get(key)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestCacheKey_VersionChangeInvalidates(t *testing.T) {
	k1 := cacheKey("q", 10, "", "", "", 1)
	k2 := cacheKey("q", 10, "", "", "", 2)
	require.NotEqual(t, k1, k2)
}
