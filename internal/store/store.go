// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/dayquest/internal/domain"
)

var (
	// ErrNotFound is returned by Load when the user has no record yet.
	ErrNotFound = errors.New("user not found")

	// ErrStoreUnavailable wraps every I/O failure of the backing database.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Ops is the set of progress operations. It is served both by a
// Repository directly and by the scope passed to Repository.WithinTx.
type Ops interface {
	// CreateIfAbsent inserts a fresh normal-mode record unless one exists.
	CreateIfAbsent(ctx context.Context, userID string) error

	// Load returns the user's record or ErrNotFound.
	Load(ctx context.Context, userID string) (*domain.UserRecord, error)

	// Save replaces every stored field of the record in one write.
	Save(ctx context.Context, rec *domain.UserRecord) error

	// AppendEntry adds a report for day. It does not check that the day is
	// new; callers only append days the engine just accepted.
	AppendEntry(ctx context.Context, userID string, day int, description string, completedAt time.Time) error

	// ListEntries returns the user's reports ordered by day.
	ListEntries(ctx context.Context, userID string) ([]domain.ProgressEntry, error)

	// PurgeEntries deletes all of the user's reports.
	PurgeEntries(ctx context.Context, userID string) error
}

// Repository is a durable progress store.
type Repository interface {
	Ops

	// WithinTx runs fn in a single transaction. The transaction commits
	// only if fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Ops) error) error

	// Migrate applies pending schema migrations and returns how many ran.
	Migrate(ctx context.Context) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
