package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/ashureev/dayquest/internal/migration"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	maxTxAttempts = 3
	txRetryDelay  = 50 * time.Millisecond
)

// dbStore is the database/sql backed Repository shared by the SQLite and
// Postgres backends.
type dbStore struct {
	sqlOps
	db        *sql.DB
	dialect   migration.Dialect
	txOpts    *sql.TxOptions
	retryable func(error) bool
}

func newDBStore(db *sql.DB, dialect migration.Dialect, bind func(string) string, txOpts *sql.TxOptions, retryable func(error) bool) *dbStore {
	return &dbStore{
		sqlOps:    sqlOps{q: db, bind: bind},
		db:        db,
		dialect:   dialect,
		txOpts:    txOpts,
		retryable: retryable,
	}
}

// WithinTx runs fn inside one transaction. Conflicts reported by the
// database are retried with exponential backoff: 50ms, 100ms.
func (s *dbStore) WithinTx(ctx context.Context, fn func(tx Ops) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.retryable(err) || attempt == maxTxAttempts {
			return err
		}

		delay := txRetryDelay * time.Duration(1<<(attempt-1))
		slog.Debug("Transaction conflict, retrying", "dialect", s.dialect, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return unavailable("retry transaction", ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

func (s *dbStore) runTx(ctx context.Context, fn func(tx Ops) error) error {
	tx, err := s.db.BeginTx(ctx, s.txOpts)
	if err != nil {
		return unavailable("begin transaction", err)
	}

	if err := fn(sqlOps{q: tx, bind: s.bind}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// Migrate applies the embedded migrations for this backend's dialect.
func (s *dbStore) Migrate(ctx context.Context) (int, error) {
	sub, err := fs.Sub(migrationsFS, "migrations/"+string(s.dialect))
	if err != nil {
		return 0, fmt.Errorf("open %s migrations: %w", s.dialect, err)
	}
	return migration.NewRunner(s.db, sub, s.dialect, slog.Default()).Apply(ctx)
}

// Ping verifies database connectivity.
func (s *dbStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *dbStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
