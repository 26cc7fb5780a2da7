package db

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func sqlFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func openTestSQLite(t *testing.T) *DB {
	t.Helper()
	store, err := Open(context.Background(), Options{Dialect: SQLite, Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadMigrations(t *testing.T) {
	fsys := sqlFS(map[string]string{
		"001_clinical.sql":   "CREATE TABLE patients (id INTEGER PRIMARY KEY);",
		"002_load_audit.sql": "CREATE TABLE load_log (id TEXT PRIMARY KEY);",
		"003_indexes.sql":    "CREATE INDEX idx ON patients(id);",
	})

	migrator := NewMigrator(nil, SQLite, fsys)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 {
		t.Errorf("expected version 1, got %d", migrations[0].Version)
	}
	if migrations[0].Name != "001_clinical.sql" {
		t.Errorf("expected name 001_clinical.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE patients (id INTEGER PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := sqlFS(map[string]string{
		"010_tables.sql": "SELECT 10;",
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"005_middle.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, SQLite, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	expectedVersions := []int{1, 2, 5, 10}
	if len(migrations) != len(expectedVersions) {
		t.Fatalf("expected %d migrations, got %d", len(expectedVersions), len(migrations))
	}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_InvalidFilename(t *testing.T) {
	fsys := sqlFS(map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- no version prefix",
		"notes.txt":          "not a sql file",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	})

	migrations, err := NewMigrator(nil, SQLite, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("unexpected versions: %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := sqlFS(map[string]string{
		"001_a.sql": "SELECT 1;",
		"001_b.sql": "SELECT 1;",
	})
	if _, err := NewMigrator(nil, SQLite, fsys).LoadMigrations(); err == nil {
		t.Fatal("expected error for two migrations with the same version")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, SQLite, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		fsys, err := Migrations(d)
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		migrations, err := NewMigrator(nil, d, fsys).LoadMigrations()
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		if len(migrations) < 2 {
			t.Errorf("%s: expected the clinical and audit migrations, got %d", d, len(migrations))
		}
	}
}

func TestMigrator_UpAndStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	fsys := sqlFS(map[string]string{
		"001_core.sql":  "CREATE TABLE a (id INTEGER PRIMARY KEY);",
		"002_more.sql":  "CREATE TABLE b (id INTEGER PRIMARY KEY);",
		"003_final.sql": "CREATE TABLE c (id INTEGER PRIMARY KEY);",
	})
	m := NewMigrator(store.DB, SQLite, fsys)

	n, err := m.UpTo(ctx, 2)
	if err != nil {
		t.Fatalf("UpTo: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 applied, got %d", n)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || !statuses[1].Applied {
		t.Error("expected migrations 001 and 002 to be applied")
	}
	if statuses[0].AppliedAt == nil {
		t.Error("expected AppliedAt for an applied migration")
	}
	if v, err := m.Version(ctx); err != nil || v != 2 {
		t.Errorf("expected version 2, got %d, %v", v, err)
	}
	if statuses[2].Applied || statuses[2].AppliedAt != nil {
		t.Error("expected migration 003 to be pending")
	}

	n, err = m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied, got %d", n)
	}

	n, err = m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing pending, got %d applied", n)
	}
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	fsys := sqlFS(map[string]string{
		"001_ok.sql":  "CREATE TABLE a (id INTEGER PRIMARY KEY);",
		"002_bad.sql": "CREATE TABLE b (id INTEGER PRIMARY KEY); INSERT INTO missing VALUES (1);",
	})
	m := NewMigrator(store.DB, SQLite, fsys)

	n, err := m.Up(ctx)
	if err == nil {
		t.Fatal("expected error from the broken migration")
	}
	if n != 1 {
		t.Errorf("expected 1 applied before the failure, got %d", n)
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if applied[2] {
		t.Error("failed migration must not be recorded")
	}
	var count int
	if err := store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'b'`).Scan(&count); err != nil {
		t.Fatalf("inspect schema: %v", err)
	}
	if count != 0 {
		t.Error("expected table b to be rolled back")
	}
}

func TestMigrator_Embedded(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	m, err := store.Migrator()
	if err != nil {
		t.Fatalf("Migrator: %v", err)
	}
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}

	for _, table := range []string{"patients", "pathology_reports", "mental_status", "load_log", "load_stage_counts"} {
		var count int
		if err := store.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count); err != nil {
			t.Fatalf("inspect %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	if _, err := store.ExecContext(ctx,
		`INSERT INTO encounters (source, encounter_date) VALUES ('epic', '03/04/2024')`); err == nil {
		t.Error("expected a non-canonical date to violate the column check")
	}
	if _, err := store.ExecContext(ctx,
		`INSERT INTO encounters (source, encounter_date) VALUES ('epic', '2024-03-04')`); err != nil {
		t.Errorf("canonical date rejected: %v", err)
	}
	if _, err := store.ExecContext(ctx,
		`INSERT INTO encounters (source, encounter_date) VALUES ('', NULL)`); err == nil {
		t.Error("expected an empty source to be rejected")
	}
}
