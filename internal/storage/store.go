package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is Diachron's embedded event store. It holds exactly one writer
// connection behind writeMu (spec.md §4.1's concurrency model) and can open
// additional read-only connections on demand for parallel FTS reads during
// hybrid search.
type Store struct {
	path string

	writeMu sync.Mutex
	db      *sql.DB

	// version increments on every successful write; the retrieval cache
	// uses it to invalidate entries without comparing full result sets.
	version atomic.Int64
}

// Open creates (if absent) and opens the event store at path, applying any
// pending migrations. Migration failure aborts startup, per spec.md §4.1.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", sqliteConnString(path, false))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// A single writer connection makes the hash chain's next_id/prev_hash
	// read-then-write sequence race-free without needing row locks.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{path: path, db: db}, nil
}

// OpenReadOnly opens an independent read-only connection to the same
// database file, for parallel reads that must not contend with the writer.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteConnString(path, true))
	if err != nil {
		return nil, fmt.Errorf("storage: open readonly %s: %w", path, err)
	}
	return db, nil
}

// Close releases the writer connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store's database file path.
func (s *Store) Path() string {
	return s.path
}

// FileSize returns the size in bytes of the store's database file on disk.
func (s *Store) FileSize() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", s.path, err)
	}
	return info.Size(), nil
}

// SearchVersion returns the store's current data-version token. The
// retrieval cache keys on this value so any write invalidates cached
// results (spec.md §4.1, §4.7).
func (s *Store) SearchVersion() int64 {
	return s.version.Load()
}

// WithConn runs f with exclusive access to the writer connection, holding
// writeMu for the duration. Used by operations that need more than one
// statement to stay consistent with the hash chain (save_event's
// read-prev-hash-then-insert sequence).
func (s *Store) WithConn(ctx context.Context, f func(ctx context.Context, db *sql.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return f(ctx, s.db)
}

// bumpVersion marks the store as having been written to since the last
// observed SearchVersion.
func (s *Store) bumpVersion() {
	s.version.Add(1)
}
