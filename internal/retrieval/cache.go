package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/diachron/diachron/internal/types"
)

const defaultCacheSize = 256

// resultCache is the search cache (spec.md §4.7 step 1/6): keyed on the
// full normalized argument tuple plus the store's current search_version,
// so any write invalidates every entry without an explicit flush.
type resultCache struct {
	lru *lru.Cache[string, []types.SearchResult]
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, []types.SearchResult](size)
	if err != nil {
		// Only returns an error for a non-positive size, which is excluded above.
		panic(err)
	}
	return &resultCache{lru: c}
}

// cacheKey hashes the query tuple the same way the teacher's rpc.QueryCache
// hashes operation+args: sha256 over the concatenated fields, truncated to
// a short hex string.
func cacheKey(query string, limit int, source types.Source, since, project string, version int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%s\x00%d", query, limit, source, since, project, version)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (c *resultCache) get(key string) ([]types.SearchResult, bool) {
	return c.lru.Get(key)
}

func (c *resultCache) set(key string, results []types.SearchResult) {
	c.lru.Add(key, results)
}
