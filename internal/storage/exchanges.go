package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/diachron/diachron/internal/types"
)

const exchangeColumns = `id, timestamp, project, session_id, user_message, assistant_text,
	tool_calls, archive_path, line_start, line_end, summary, git_branch, cwd`

func scanExchange(row interface{ Scan(dest ...any) error }) (*types.Exchange, error) {
	var ex types.Exchange
	if err := row.Scan(
		&ex.ID, &ex.Timestamp, &ex.Project, &ex.SessionID, &ex.UserMessage, &ex.AssistantText,
		&ex.ToolCalls, &ex.ArchivePath, &ex.LineStart, &ex.LineEnd, &ex.Summary, &ex.GitBranch, &ex.CWD,
	); err != nil {
		return nil, err
	}
	return &ex, nil
}

// SaveExchange inserts ex, or replaces it atomically if its id already
// exists (spec.md §4.1's duplicate-exchange-id failure semantics) — the
// archive indexer re-processes the tail of a file on every incremental
// pass, so re-saving the same exchange id must be a no-op-equivalent
// upsert, not a conflict.
func (s *Store) SaveExchange(ctx context.Context, ex *types.Exchange) error {
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO exchanges (`+exchangeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				timestamp = excluded.timestamp,
				project = excluded.project,
				session_id = excluded.session_id,
				user_message = excluded.user_message,
				assistant_text = excluded.assistant_text,
				tool_calls = excluded.tool_calls,
				archive_path = excluded.archive_path,
				line_start = excluded.line_start,
				line_end = excluded.line_end,
				git_branch = excluded.git_branch,
				cwd = excluded.cwd
		`, ex.ID, ex.Timestamp.UTC(), ex.Project, ex.SessionID, ex.UserMessage, ex.AssistantText,
			ex.ToolCalls, ex.ArchivePath, ex.LineStart, ex.LineEnd, ex.Summary, ex.GitBranch, ex.CWD)
		return err
	})
	if err != nil {
		return wrapDBError("save_exchange", err)
	}
	s.bumpVersion()
	return nil
}

// QueryExchangesForIntent returns exchanges in session, before the given
// time, most recent first, bounded by limit — used by the blame resolver
// to recover the intent behind a hunk (spec.md §4.9).
func (s *Store) QueryExchangesForIntent(ctx context.Context, sessionID string, before time.Time, limit int) ([]*types.Exchange, error) {
	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, `
			SELECT `+exchangeColumns+` FROM exchanges
			WHERE session_id = ? AND timestamp <= ?
			ORDER BY timestamp DESC LIMIT ?
		`, sessionID, before.UTC(), limit)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("query_exchanges_for_intent", err)
	}
	defer rows.Close()

	var out []*types.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, wrapDBError("query_exchanges_for_intent: scan", err)
		}
		out = append(out, ex)
	}
	return out, wrapDBError("query_exchanges_for_intent: iterate", rows.Err())
}

// GetExchangesByIDs fetches exchanges by id, for enriching vector-search
// hits (which carry only an id and a similarity score) with timestamp,
// project, and a display snippet (spec.md §4.7).
func (s *Store) GetExchangesByIDs(ctx context.Context, ids []string) ([]*types.Exchange, error) {
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
		rows, qerr = db.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id IN (`+string(placeholders)+`)`, args...)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("get_exchanges_by_ids", err)
	}
	defer rows.Close()

	var out []*types.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, wrapDBError("get_exchanges_by_ids: scan", err)
		}
		out = append(out, ex)
	}
	return out, wrapDBError("get_exchanges_by_ids: iterate", rows.Err())
}

// ExchangeCount returns the total number of stored exchanges.
func (s *Store) ExchangeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&count)
	})
	return count, wrapDBError("exchange_count", err)
}

// GetExchangesWithoutSummary returns up to limit exchanges that have never
// been summarized, oldest first, for the summarization collaborator to
// process (spec.md §6.4).
func (s *Store) GetExchangesWithoutSummary(ctx context.Context, limit int) ([]*types.Exchange, error) {
	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, `
			SELECT `+exchangeColumns+` FROM exchanges
			WHERE summary = '' ORDER BY timestamp ASC LIMIT ?
		`, limit)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("get_exchanges_without_summary", err)
	}
	defer rows.Close()

	var out []*types.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, wrapDBError("get_exchanges_without_summary: scan", err)
		}
		out = append(out, ex)
	}
	return out, wrapDBError("get_exchanges_without_summary: iterate", rows.Err())
}

// UpdateExchangeSummary sets the summary text for an existing exchange.
func (s *Store) UpdateExchangeSummary(ctx context.Context, id, summary string) error {
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE exchanges SET summary = ? WHERE id = ?`, summary, id)
		return err
	})
	if err != nil {
		return wrapDBError("update_exchange_summary", err)
	}
	s.bumpVersion()
	return nil
}

// PruneOldExchanges deletes exchanges older than the given cutoff and
// returns the number of rows removed.
func (s *Store) PruneOldExchanges(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM exchanges WHERE timestamp < ?`, olderThan.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, wrapDBError("prune_old_exchanges", err)
	}
	if n > 0 {
		s.bumpVersion()
	}
	return n, nil
}
