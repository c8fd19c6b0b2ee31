package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/dayquest/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlOps implements Ops over any querier. bind rewrites the '?'
// placeholders for the target dialect.
type sqlOps struct {
	q    querier
	bind func(string) string
}

func bindQuestion(query string) string { return query }

func bindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateIfAbsent inserts a fresh record for userID if none exists.
func (o sqlOps) CreateIfAbsent(ctx context.Context, userID string) error {
	query := `
	INSERT INTO users (user_id, mode, current_day, is_finished, task_pending, started_at)
	VALUES (?, ?, 0, ?, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`

	_, err := o.q.ExecContext(ctx, o.bind(query),
		userID, string(domain.ModeNormal), false, false, time.Now().Unix())
	if err != nil {
		return unavailable("create user", err)
	}
	return nil
}

// Load retrieves a user record by user ID.
func (o sqlOps) Load(ctx context.Context, userID string) (*domain.UserRecord, error) {
	query := `
		SELECT user_id, mode, current_day, is_finished, task_pending, started_at
		FROM users WHERE user_id = ?`

	var rec domain.UserRecord
	var mode string
	var startedAt int64

	err := o.q.QueryRowContext(ctx, o.bind(query), userID).Scan(
		&rec.UserID, &mode, &rec.CurrentDay, &rec.IsFinished, &rec.TaskPending, &startedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("load user", err)
	}

	rec.Mode = domain.Mode(mode)
	rec.StartedAt = time.Unix(startedAt, 0)
	return &rec, nil
}

// Save writes every field of rec, creating the row if needed.
func (o sqlOps) Save(ctx context.Context, rec *domain.UserRecord) error {
	query := `
	INSERT INTO users (user_id, mode, current_day, is_finished, task_pending, started_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		mode = excluded.mode,
		current_day = excluded.current_day,
		is_finished = excluded.is_finished,
		task_pending = excluded.task_pending,
		started_at = excluded.started_at`

	_, err := o.q.ExecContext(ctx, o.bind(query),
		rec.UserID, string(rec.Mode), rec.CurrentDay,
		rec.IsFinished, rec.TaskPending, rec.StartedAt.Unix(),
	)
	if err != nil {
		return unavailable("save user", err)
	}
	return nil
}

// AppendEntry records an accepted report.
func (o sqlOps) AppendEntry(ctx context.Context, userID string, day int, description string, completedAt time.Time) error {
	query := `INSERT INTO progress (user_id, day, description, completed_at) VALUES (?, ?, ?, ?)`
	if _, err := o.q.ExecContext(ctx, o.bind(query), userID, day, description, completedAt.Unix()); err != nil {
		return unavailable("append entry", err)
	}
	return nil
}

// ListEntries returns the user's reports ordered by day.
func (o sqlOps) ListEntries(ctx context.Context, userID string) ([]domain.ProgressEntry, error) {
	query := `
		SELECT id, user_id, day, description, completed_at
		FROM progress WHERE user_id = ? ORDER BY day, id`

	rows, err := o.q.QueryContext(ctx, o.bind(query), userID)
	if err != nil {
		return nil, unavailable("query entries", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close entry rows", "error", closeErr)
		}
	}()

	var entries []domain.ProgressEntry
	for rows.Next() {
		var e domain.ProgressEntry
		var completedAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Day, &e.Description, &completedAt); err != nil {
			return nil, unavailable("scan entry row", err)
		}
		e.CompletedAt = time.Unix(completedAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate entries", err)
	}

	return entries, nil
}

// PurgeEntries deletes every report of the user.
func (o sqlOps) PurgeEntries(ctx context.Context, userID string) error {
	if _, err := o.q.ExecContext(ctx, o.bind(`DELETE FROM progress WHERE user_id = ?`), userID); err != nil {
		return unavailable("purge entries", err)
	}
	return nil
}
