// Package retrieval implements Diachron's hybrid search: a vector fanout
// over HNSW indexes, a lexical fanout over FTS5 shadow tables, merged and
// cached behind one entry point (spec.md §4.7).
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diachron/diachron/internal/embedding"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/vectorindex"
)

const (
	eventVectorPrefix    = "event:"
	exchangeVectorPrefix = "exchange:"
)

// Engine is the single entry point, search(query, limit, source_filter?,
// since?, project?).
type Engine struct {
	store         *storage.Store
	embedder      *embedding.Engine // nil: vector branch degrades to empty
	eventIndex    *vectorindex.Index
	exchangeIndex *vectorindex.Index
	cache         *resultCache
	log           *slog.Logger
}

func New(store *storage.Store, embedder *embedding.Engine, eventIndex, exchangeIndex *vectorindex.Index, cacheSize int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:         store,
		embedder:      embedder,
		eventIndex:    eventIndex,
		exchangeIndex: exchangeIndex,
		cache:         newResultCache(cacheSize),
		log:           log,
	}
}

// Search resolves one hybrid query. since, when non-zero, is an absolute
// cutoff already resolved by the caller (e.g. via storage.ParseSince);
// comparing it as time.Time orders identically to the spec's lexicographic
// ISO-string comparison, since both are over UTC RFC3339 timestamps.
func (e *Engine) Search(ctx context.Context, query string, limit int, source types.Source, since time.Time, project string) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	key := cacheKey(query, limit, source, since.UTC().Format(time.RFC3339Nano), project, e.store.SearchVersion())
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	var vectorHits, lexicalHits []types.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorHits = e.vectorSearch(gctx, query, limit, source)
		return nil
	})
	g.Go(func() error {
		lexicalHits = e.lexicalSearch(gctx, query, limit, source)
		return nil
	})
	_ = g.Wait() // branch errors are already logged and downgraded to empty slices

	vectorHits = e.enrich(ctx, vectorHits)

	merged := mergeResults(vectorHits, lexicalHits)
	filtered := postFilter(merged, since, project)

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	e.cache.set(key, filtered)
	return filtered, nil
}

// vectorSearch embeds query once and searches each requested index. A
// missing embedder, an empty index, or a search failure all degrade to no
// vector hits rather than aborting the request (spec.md §4.7 error
// semantics, §4.5 failure semantics).
func (e *Engine) vectorSearch(ctx context.Context, query string, limit int, source types.Source) []types.SearchResult {
	if e.embedder == nil {
		return nil
	}

	vec, err := e.embedder.Embed(query)
	if err != nil {
		e.log.Warn("retrieval: query embedding failed, degrading to lexical-only", "error", err)
		return nil
	}

	var out []types.SearchResult
	if source != types.SourceExchange && e.eventIndex != nil && e.eventIndex.Len() > 0 {
		out = append(out, e.searchIndex(e.eventIndex, vec, limit, types.SourceEvent, eventVectorPrefix)...)
	}
	if source != types.SourceEvent && e.exchangeIndex != nil && e.exchangeIndex.Len() > 0 {
		out = append(out, e.searchIndex(e.exchangeIndex, vec, limit, types.SourceExchange, exchangeVectorPrefix)...)
	}
	return out
}

func (e *Engine) searchIndex(idx *vectorindex.Index, vec []float32, limit int, src types.Source, prefix string) []types.SearchResult {
	hits, err := idx.Search(vec, limit)
	if err != nil {
		e.log.Warn("retrieval: vector search failed", "source", src, "error", err)
		return nil
	}
	out := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, types.SearchResult{
			Source:        src,
			ID:            strings.TrimPrefix(h.ID, prefix),
			Score:         h.Similarity,
			UsedEmbedding: true,
		})
	}
	return out
}

// enrich fills in timestamp, project, and a snippet for vector hits, which
// carry only an id and a similarity score. A lookup failure drops the
// timestamp/project enrichment for that branch rather than failing the
// request — the id and score are still usable.
func (e *Engine) enrich(ctx context.Context, hits []types.SearchResult) []types.SearchResult {
	if len(hits) == 0 {
		return hits
	}

	var eventIDs []int64
	var exchangeIDs []string
	for _, h := range hits {
		switch h.Source {
		case types.SourceEvent:
			if id, err := strconv.ParseInt(h.ID, 10, 64); err == nil {
				eventIDs = append(eventIDs, id)
			}
		case types.SourceExchange:
			exchangeIDs = append(exchangeIDs, h.ID)
		}
	}

	events := make(map[string]*types.Event)
	if len(eventIDs) > 0 {
		rows, err := e.store.GetEventsByIDs(ctx, eventIDs)
		if err != nil {
			e.log.Warn("retrieval: enrich events failed", "error", err)
		}
		for _, ev := range rows {
			events[fmt.Sprintf("%d", ev.ID)] = ev
		}
	}

	exchanges := make(map[string]*types.Exchange)
	if len(exchangeIDs) > 0 {
		rows, err := e.store.GetExchangesByIDs(ctx, exchangeIDs)
		if err != nil {
			e.log.Warn("retrieval: enrich exchanges failed", "error", err)
		}
		for _, ex := range rows {
			exchanges[ex.ID] = ex
		}
	}

	for i, h := range hits {
		switch h.Source {
		case types.SourceEvent:
			if ev, ok := events[h.ID]; ok {
				hits[i].Timestamp = ev.Timestamp
				hits[i].Snippet = truncateSnippet(ev.DiffSummary)
			}
		case types.SourceExchange:
			if ex, ok := exchanges[h.ID]; ok {
				hits[i].Timestamp = ex.Timestamp
				hits[i].Project = ex.Project
				hits[i].Snippet = truncateSnippet(ex.UserMessage)
			}
		}
	}
	return hits
}

func truncateSnippet(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}

// lexicalSearch runs FTS queries over independent read-only connections so
// concurrent lexical reads never contend with the writer (spec.md §5).
func (e *Engine) lexicalSearch(ctx context.Context, query string, limit int, source types.Source) []types.SearchResult {
	var out []types.SearchResult

	if source != types.SourceExchange {
		hits, err := storage.SearchEventsFTS(ctx, e.store.Path(), query, limit)
		if err != nil {
			e.log.Warn("retrieval: events FTS search failed", "error", err)
		} else {
			out = append(out, hits...)
		}
	}
	if source != types.SourceEvent {
		hits, err := storage.SearchExchangesFTS(ctx, e.store.Path(), query, limit)
		if err != nil {
			e.log.Warn("retrieval: exchanges FTS search failed", "error", err)
		} else {
			out = append(out, hits...)
		}
	}
	return out
}

type mergeKey struct {
	source types.Source
	id     string
}

// mergeResults unions the two branches by (source, id), keeping first
// occurrence — vector hits are listed first, so vector wins ties.
func mergeResults(vectorHits, lexicalHits []types.SearchResult) []types.SearchResult {
	seen := make(map[mergeKey]bool, len(vectorHits)+len(lexicalHits))
	out := make([]types.SearchResult, 0, len(vectorHits)+len(lexicalHits))
	for _, r := range append(append([]types.SearchResult{}, vectorHits...), lexicalHits...) {
		k := mergeKey{r.Source, r.ID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// postFilter drops results before since and, when project is set, results
// whose project doesn't contain it case-insensitively (or have no project
// at all).
func postFilter(results []types.SearchResult, since time.Time, project string) []types.SearchResult {
	out := results[:0:0]
	for _, r := range results {
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		if project != "" {
			if r.Project == "" || !strings.Contains(strings.ToLower(r.Project), strings.ToLower(project)) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
