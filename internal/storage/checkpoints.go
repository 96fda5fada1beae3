package storage

import (
	"context"
	"database/sql"

	"github.com/diachron/diachron/internal/hashchain"
	"github.com/diachron/diachron/internal/types"
)

// SaveCheckpoint inserts today's daily checkpoint (spec.md §4.2).
func (s *Store) SaveCheckpoint(ctx context.Context, cp types.ChainCheckpoint) error {
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chain_checkpoints (date, event_count, final_hash, signature, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				event_count = excluded.event_count,
				final_hash = excluded.final_hash,
				signature = excluded.signature
		`, cp.Date, cp.EventCount, cp.FinalHash[:], cp.Signature, cp.CreatedAt.UTC())
		return err
	})
	return wrapDBError("save_checkpoint", err)
}

// CheckpointCount returns the number of recorded daily checkpoints, used by
// Verify's checkpoints_checked field.
func (s *Store) CheckpointCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_checkpoints`).Scan(&count)
	})
	return count, wrapDBError("checkpoint_count", err)
}

// AllEventsForVerify returns every event in id-ascending order, the shape
// hashchain.Verify requires.
func (s *Store) AllEventsForVerify(ctx context.Context) ([]*types.Event, error) {
	var rows *sql.Rows
	err := s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		var qerr error
		rows, qerr = db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id ASC`)
		return qerr
	})
	if err != nil {
		return nil, wrapDBError("all_events_for_verify", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("all_events_for_verify: scan", err)
		}
		out = append(out, e)
	}
	return out, wrapDBError("all_events_for_verify: iterate", rows.Err())
}

// Verify runs the hash-chain verification walk over every stored event.
func (s *Store) Verify(ctx context.Context) (hashchain.VerifyResult, error) {
	events, err := s.AllEventsForVerify(ctx)
	if err != nil {
		return hashchain.VerifyResult{}, err
	}
	checkpoints, err := s.CheckpointCount(ctx)
	if err != nil {
		return hashchain.VerifyResult{}, err
	}
	return hashchain.Verify(events, checkpoints), nil
}
