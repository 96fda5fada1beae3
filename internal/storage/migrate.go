package storage

import (
	"database/sql"
	"fmt"
)

// migration is one schema change, applied at most once and recorded in
// schema_version. Each migration must be safe to re-run (idempotent column
// and index creation) so a partially-migrated database can always resume.
type migration struct {
	version int
	name    string
	apply   func(*sql.Tx) error
}

// migrations lists every schema change in order. Appending a new one and
// bumping its version number is the only way the schema evolves.
var migrations = []migration{
	{1, "core_schema", execMulti(coreSchema)},
	{2, "fts_schema", execMulti(ftsSchema)},
}

// execMulti returns a migration step that executes a multi-statement SQL
// script in a single Tx.Exec call. database/sql doesn't support
// multi-statement Exec on every driver; this relies on the sqlite driver
// this store uses accepting batched statements in one Exec call.
func execMulti(script string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec(script)
		return err
	}
}

// runMigrations applies every migration whose version is not yet recorded
// in schema_version, each inside its own transaction. A failure aborts
// startup without touching the schema_version table for that migration.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("storage: create schema_version: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("storage: read schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan schema_version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("storage: iterate schema_version: %w", err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("storage: begin migration %d (%s): %w", m.version, m.name, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: record migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}
