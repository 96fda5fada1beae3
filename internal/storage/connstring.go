// Package storage is Diachron's embedded event store: schema, migration
// framework, and the query surface every other component reads and writes
// through (spec.md §4.1).
package storage

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// sqliteConnString builds a SQLite connection string with the pragmas the
// store depends on: busy_timeout (avoids "database is locked" under
// concurrent readers), foreign_keys, and a sqlite-native time format.
// Honors DIACHRON_LOCK_TIMEOUT for the busy timeout (default 30s). If
// readOnly is set, the connection is opened in read-only mode.
func sqliteConnString(path string, readOnly bool) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("DIACHRON_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if readOnly {
		return fmt.Sprintf("file:%s?mode=ro&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
	}
	// journal_mode=WAL lets the independent read-only connections opened
	// for parallel FTS search (spec.md §5) read without blocking on, or
	// being blocked by, the single writer connection.
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_time_format=sqlite", path, busyMs)
}
