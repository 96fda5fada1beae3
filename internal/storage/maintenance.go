package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// VacuumAndAnalyze reclaims space freed by pruning and refreshes the query
// planner's statistics. VACUUM cannot run inside a transaction; WithConn
// only holds writeMu and opens none, so both statements run directly on the
// writer connection.
func (s *Store) VacuumAndAnalyze(ctx context.Context) error {
	return s.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `VACUUM`); err != nil {
			return fmt.Errorf("storage: vacuum: %w", err)
		}
		if _, err := db.ExecContext(ctx, `ANALYZE`); err != nil {
			return fmt.Errorf("storage: analyze: %w", err)
		}
		return nil
	})
}
