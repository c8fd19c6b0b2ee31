package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// isSQLiteConflict reports SQLITE_BUSY and "database is locked" errors,
// the two forms SQLite uses for lock contention between connections.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// isPostgresConflict reports serialization failures and deadlocks.
func isPostgresConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	default:
		return false
	}
}
