package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/diachron/diachron/internal/fingerprint"
	"github.com/diachron/diachron/internal/hashchain"
	"github.com/diachron/diachron/internal/types"
)

// SaveEvent assigns the event the next id, chains it to the current head
// hash, and inserts it — all inside one transaction on the writer
// connection, so the read-prev-hash-then-insert sequence can never
// interleave with a concurrent writer (spec.md §4.1, §4.2).
func (s *Store) SaveEvent(ctx context.Context, e *types.Event) error {
	return s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin save_event: %w", err)
		}
		defer tx.Rollback()

		var maxID sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&maxID); err != nil {
			return wrapDBError("save_event: read max id", err)
		}
		e.ID = maxID.Int64 + 1

		prevHash := hashchain.GenesisHash
		var lastHash []byte
		err = tx.QueryRowContext(ctx, `SELECT event_hash FROM events ORDER BY id DESC LIMIT 1`).Scan(&lastHash)
		switch {
		case err == sql.ErrNoRows:
			// genesis
		case err != nil:
			return wrapDBError("save_event: read prev hash", err)
		default:
			copy(prevHash[:], lastHash)
		}

		if err := hashchain.Seal(e, prevHash); err != nil {
			return fmt.Errorf("storage: seal event %d: %w", e.ID, err)
		}

		for key := range e.Metadata.Extra {
			if err := validateMetadataKey(key); err != nil {
				return fmt.Errorf("storage: %w", err)
			}
		}

		metadataJSON, err := e.Metadata.MarshalJSON()
		if err != nil {
			return fmt.Errorf("storage: marshal metadata: %w", err)
		}
		if _, err := normalizeMetadataValue(metadataJSON); err != nil {
			return fmt.Errorf("storage: invalid metadata: %w", err)
		}

		var contentHash, contextHash any
		if e.ContentHash != nil {
			contentHash = e.ContentHash[:]
		}
		if e.ContextHash != nil {
			contextHash = e.ContextHash[:]
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (
				id, timestamp, session_id, tool_name, file_path, operation,
				diff_summary, raw_input, git_commit_sha, metadata,
				content_hash, context_hash, prev_hash, event_hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Timestamp.UTC(), e.SessionID, e.ToolName, e.FilePath, string(e.Operation),
			e.DiffSummary, e.RawInput, e.GitCommitSHA, string(metadataJSON),
			contentHash, contextHash, e.PrevHash[:], e.EventHash[:])
		if err != nil {
			return wrapDBError("save_event: insert", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit save_event: %w", err)
		}
		s.bumpVersion()
		return nil
	})
}

// scanEvent reads one events row, in the column order every query in this
// file selects.
func scanEvent(row interface {
	Scan(dest ...any) error
}) (*types.Event, error) {
	var e types.Event
	var op, metadataJSON string
	var contentHash, contextHash, prevHash, eventHash []byte

	if err := row.Scan(
		&e.ID, &e.Timestamp, &e.SessionID, &e.ToolName, &e.FilePath, &op,
		&e.DiffSummary, &e.RawInput, &e.GitCommitSHA, &metadataJSON,
		&contentHash, &contextHash, &prevHash, &eventHash,
	); err != nil {
		return nil, err
	}

	e.Operation = types.Operation(op)
	if err := e.Metadata.UnmarshalJSON([]byte(metadataJSON)); err != nil {
		return nil, fmt.Errorf("storage: unmarshal metadata for event %d: %w", e.ID, err)
	}
	if len(contentHash) == types.HashSize {
		var h [types.HashSize]byte
		copy(h[:], contentHash)
		e.ContentHash = &h
	}
	if len(contextHash) == types.HashSize {
		var h [types.HashSize]byte
		copy(h[:], contextHash)
		e.ContextHash = &h
	}
	copy(e.PrevHash[:], prevHash)
	copy(e.EventHash[:], eventHash)
	return &e, nil
}

const eventColumns = `id, timestamp, session_id, tool_name, file_path, operation,
	diff_summary, raw_input, git_commit_sha, metadata,
	content_hash, context_hash, prev_hash, event_hash`

// QueryEvents returns events matching filter, most recent first, bounded by
// filter.Limit.
func (s *Store) QueryEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any

	if filter.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.UTC())
	}
	if filter.FilePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filter.FilePath)
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, query, args...)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("query_events", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("query_events: scan", err)
		}
		events = append(events, e)
	}
	return events, wrapDBError("query_events: iterate", rows.Err())
}

// QueryEventsForFile returns the most recent events touching path, newest
// first, bounded by limit.
func (s *Store) QueryEventsForFile(ctx context.Context, path string, limit int) ([]*types.Event, error) {
	return s.QueryEvents(ctx, types.EventFilter{FilePath: path, Limit: limit})
}

// QueryEventsInRange returns events with start <= timestamp <= end, oldest
// first, for the PR correlator's candidate pool (spec.md §4.8).
func (s *Store) QueryEventsInRange(ctx context.Context, start, end time.Time) ([]*types.Event, error) {
	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, `
			SELECT `+eventColumns+` FROM events
			WHERE timestamp >= ? AND timestamp <= ?
			ORDER BY timestamp ASC
		`, start.UTC(), end.UTC())
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("query_events_in_range", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("query_events_in_range: scan", err)
		}
		out = append(out, e)
	}
	return out, wrapDBError("query_events_in_range: iterate", rows.Err())
}

// GetEventsByIDs fetches events by id, for enriching vector-search hits
// (which carry only an id and a similarity score) with timestamp and a
// display snippet (spec.md §4.7).
func (s *Store) GetEventsByIDs(ctx context.Context, ids []int64) ([]*types.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id IN (`+string(placeholders)+`)`, args...)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("get_events_by_ids", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("get_events_by_ids: scan", err)
		}
		out = append(out, e)
	}
	return out, wrapDBError("get_events_by_ids: iterate", rows.Err())
}

// GetEventFingerprints builds fingerprint candidates for the given events,
// for use by the blame resolver (spec.md §4.3, §4.9).
func (s *Store) GetEventFingerprints(ctx context.Context, eventIDs []int64) ([]fingerprint.Candidate, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]byte, 0, len(eventIDs)*2)
	args := make([]any, 0, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf(`SELECT id, content_hash, context_hash FROM events WHERE id IN (%s)`, placeholders)

	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, query, args...)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("get_event_fingerprints", err)
	}
	defer rows.Close()

	var out []fingerprint.Candidate
	for rows.Next() {
		var id int64
		var contentHash, contextHash []byte
		if err := rows.Scan(&id, &contentHash, &contextHash); err != nil {
			return nil, wrapDBError("get_event_fingerprints: scan", err)
		}
		c := fingerprint.Candidate{EventID: id}
		copy(c.ContentHash[:], contentHash)
		copy(c.ContextHash[:], contextHash)
		out = append(out, c)
	}
	return out, wrapDBError("get_event_fingerprints: iterate", rows.Err())
}

// EventCount returns the total number of stored events.
func (s *Store) EventCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	})
	return count, wrapDBError("event_count", err)
}

// PruneOldEvents deletes events older than the given cutoff and returns the
// number of rows removed. Pruning does not rewrite surviving events' hashes
// — spec.md's hash chain is a detection mechanism, and pruning openly
// records a verification gap rather than forging continuity.
func (s *Store) PruneOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, olderThan.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, wrapDBError("prune_old_events", err)
	}
	if n > 0 {
		s.bumpVersion()
	}
	return n, nil
}
