package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyInOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	migrations := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE items ADD COLUMN label TEXT NOT NULL DEFAULT '';`)},
		"001_init.sql":       {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY);`)},
		"README.md":          {Data: []byte("ignored")},
	}
	runner := NewRunner(db, migrations, DialectSQLite, nil)

	applied, err := runner.Apply(ctx)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("expected 2 migrations applied, got %d", applied)
	}

	version, err := runner.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if _, err := db.Exec(`INSERT INTO items (id, label) VALUES (1, 'x')`); err != nil {
		t.Errorf("expected migrated schema, insert failed: %v", err)
	}

	again, err := runner.Apply(ctx)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if again != 0 {
		t.Errorf("expected no pending migrations, got %d", again)
	}
}

func TestApplyRollsBackFailedMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	runner := NewRunner(db, fstest.MapFS{
		"001_init.sql":   {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY);`)},
		"002_broken.sql": {Data: []byte(`ALTER TABLE missing ADD COLUMN x TEXT;`)},
	}, DialectSQLite, nil)

	applied, err := runner.Apply(ctx)
	if err == nil {
		t.Fatal("expected error from broken migration")
	}
	if applied != 1 {
		t.Errorf("expected 1 migration applied before failure, got %d", applied)
	}

	version, err := runner.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version to stay at 1, got %d", version)
	}
}

func TestMigrationsValidation(t *testing.T) {
	tests := []struct {
		name    string
		fs      fstest.MapFS
		wantErr string
	}{
		{"bad name", fstest.MapFS{"init.sql": {Data: []byte("")}}, "invalid migration filename"},
		{"bad version", fstest.MapFS{"abc_init.sql": {Data: []byte("")}}, "invalid version"},
		{"zero version", fstest.MapFS{"000_init.sql": {Data: []byte("")}}, "at least 1"},
		{"duplicate", fstest.MapFS{
			"001_a.sql": {Data: []byte("")},
			"1_b.sql":   {Data: []byte("")},
		}, "duplicate migration version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewRunner(nil, tt.fs, DialectSQLite, nil)
			_, err := runner.Migrations()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyRejectsNewerDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	runner := NewRunner(db, fstest.MapFS{
		"001_init.sql": {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY);`)},
	}, DialectSQLite, nil)
	if _, err := runner.Apply(ctx); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := db.Exec(`UPDATE schema_version SET version = 9`); err != nil {
		t.Fatalf("bump version: %v", err)
	}

	if _, err := runner.Apply(ctx); err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("expected newer-version error, got %v", err)
	}
}
