package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/dayquest/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Set DAYQUEST_TEST_POSTGRES_URL to run against a real server.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	connStr := os.Getenv("DAYQUEST_TEST_POSTGRES_URL")
	if connStr == "" {
		t.Skip("DAYQUEST_TEST_POSTGRES_URL not set")
	}
	s, err := NewPostgres(connStr)
	if err != nil {
		t.Fatalf("NewPostgres failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return s
}

func TestPostgresLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	userID := "pg-" + uuid.NewString()

	if err := s.CreateIfAbsent(ctx, userID); err != nil {
		t.Fatalf("CreateIfAbsent failed: %v", err)
	}
	rec, err := s.Load(ctx, userID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !rec.IsFresh() {
		t.Errorf("expected fresh record, got %+v", rec)
	}

	err = s.WithinTx(ctx, func(tx Ops) error {
		rec.CurrentDay = 1
		rec.Mode = domain.ModeHard
		if err := tx.Save(ctx, rec); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, userID, 1, "pg report", time.Now())
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	entries, err := s.ListEntries(ctx, userID)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Description != "pg report" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	if err := s.PurgeEntries(ctx, userID); err != nil {
		t.Fatalf("PurgeEntries failed: %v", err)
	}
	if _, err := s.Load(ctx, "pg-missing-"+uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Two connections racing to accept the same pending report must leave
// exactly one entry; the loser retries and sees the task already closed.
func TestPostgresConcurrentReportsAcrossConnections(t *testing.T) {
	ctx := context.Background()
	a := newTestPostgres(t)
	b := newTestPostgres(t)
	userID := "pg-race-" + uuid.NewString()

	if err := a.CreateIfAbsent(ctx, userID); err != nil {
		t.Fatalf("CreateIfAbsent failed: %v", err)
	}
	rec, err := a.Load(ctx, userID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec.TaskPending = true
	rec.CurrentDay = 3
	if err := a.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var loaded sync.WaitGroup
	loaded.Add(2)
	accept := func(s *PostgresStore, text string) error {
		first := true
		return s.WithinTx(ctx, func(tx Ops) error {
			cur, err := tx.Load(ctx, userID)
			if err != nil {
				return err
			}
			if first {
				first = false
				loaded.Done()
				loaded.Wait()
			}
			if !cur.TaskPending {
				return nil
			}
			cur.TaskPending = false
			cur.CurrentDay++
			if err := tx.Save(ctx, cur); err != nil {
				return err
			}
			return tx.AppendEntry(ctx, userID, cur.CurrentDay, text, time.Now())
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*PostgresStore{a, b} {
		wg.Add(1)
		go func(i int, s *PostgresStore) {
			defer wg.Done()
			errs[i] = accept(s, "report from connection "+string(rune('A'+i)))
		}(i, s)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("transaction %d failed: %v", i, err)
		}
	}

	entries, err := a.ListEntries(ctx, userID)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Day != 4 {
		t.Fatalf("expected one day-4 entry, got %+v", entries)
	}
	final, err := a.Load(ctx, userID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if final.CurrentDay != 4 || final.TaskPending {
		t.Errorf("unexpected final record: %+v", final)
	}
}

func TestPostgresConflictClassification(t *testing.T) {
	err := unavailable("commit transaction", &pq.Error{Code: "40001"})
	if !isPostgresConflict(err) {
		t.Error("expected serialization failure to be a conflict")
	}
	if isPostgresConflict(unavailable("insert", &pq.Error{Code: "23505"})) {
		t.Error("unique violation is not a conflict")
	}
}

func TestNewPostgresRejectsBadConnString(t *testing.T) {
	if _, err := NewPostgres("postgres://%zz"); err == nil {
		t.Error("expected error for malformed connection string")
	}
}
