package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/diachron/diachron/internal/types"
)

// SearchEventsFTS runs a full-text query over events_fts on an independent
// read-only connection, so a concurrent lexical search never contends with
// the writer (spec.md §4.7, §5). The BM25-style rank is negated so higher
// is always better, matching the vector branch's similarity convention.
func SearchEventsFTS(ctx context.Context, dbPath, query string, limit int) ([]types.SearchResult, error) {
	db, err := OpenReadOnly(dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: fts events: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT e.id, e.timestamp, bm25(events_fts) AS rank,
			substr(e.diff_summary, 1, 200)
		FROM events_fts
		JOIN events e ON e.id = events_fts.id
		WHERE events_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fts events query: %w", err)
	}
	defer rows.Close()

	var out []types.SearchResult
	for rows.Next() {
		var id int64
		var ts sql.NullTime
		var rank float64
		var snippet string
		if err := rows.Scan(&id, &ts, &rank, &snippet); err != nil {
			return nil, fmt.Errorf("storage: fts events scan: %w", err)
		}
		out = append(out, types.SearchResult{
			Source:    types.SourceEvent,
			ID:        fmt.Sprintf("%d", id),
			Score:     -rank,
			Timestamp: ts.Time,
			Snippet:   snippet,
		})
	}
	return out, rows.Err()
}

// SearchExchangesFTS is SearchEventsFTS's counterpart over exchanges_fts.
func SearchExchangesFTS(ctx context.Context, dbPath, query string, limit int) ([]types.SearchResult, error) {
	db, err := OpenReadOnly(dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: fts exchanges: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT x.id, x.timestamp, x.project, bm25(exchanges_fts) AS rank,
			substr(x.user_message, 1, 200)
		FROM exchanges_fts
		JOIN exchanges x ON x.id = exchanges_fts.id
		WHERE exchanges_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fts exchanges query: %w", err)
	}
	defer rows.Close()

	var out []types.SearchResult
	for rows.Next() {
		var id string
		var ts sql.NullTime
		var project string
		var rank float64
		var snippet string
		if err := rows.Scan(&id, &ts, &project, &rank, &snippet); err != nil {
			return nil, fmt.Errorf("storage: fts exchanges scan: %w", err)
		}
		out = append(out, types.SearchResult{
			Source:    types.SourceExchange,
			ID:        id,
			Score:     -rank,
			Timestamp: ts.Time,
			Project:   project,
			Snippet:   snippet,
		})
	}
	return out, rows.Err()
}
