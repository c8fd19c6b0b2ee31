package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ashureev/dayquest/internal/migration"
	"github.com/lib/pq"
)

// PostgresStore implements Repository using PostgreSQL.
type PostgresStore struct {
	*dbStore
}

// NewPostgres connects to the database described by connStr (URL or DSN).
func NewPostgres(connStr string) (*PostgresStore, error) {
	connector, err := pq.NewConnector(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Serializable so two processes applying the same user's transition
	// cannot both commit; the loser gets 40001 and is retried.
	txOpts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	return &PostgresStore{
		dbStore: newDBStore(db, migration.DialectPostgres, bindDollar, txOpts, isPostgresConflict),
	}, nil
}
