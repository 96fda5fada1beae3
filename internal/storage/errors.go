package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested row was not found.
var ErrNotFound = errors.New("not found")

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound for consistent handling upstream.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
