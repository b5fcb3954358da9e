// Package db tests for schema migration management.
package db

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestUpAppliesAllMigrations verifies a fresh database migrates to the
// latest version with every expected table in place.
func TestUpAppliesAllMigrations(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}

	for _, table := range []string{"records", "sync_queue", "sync_meta", "schema_migrations"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}
}

// TestUpIdempotent verifies re-running Up applies nothing new.
func TestUpIdempotent(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Up(); err != nil {
		t.Fatalf("first Up failed: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("second Up failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("applied %d migrations, want %d", len(applied), len(migrations))
	}
}

// TestAppliedMigrationsMetadata verifies checksum and description
// bookkeeping.
func TestAppliedMigrationsMetadata(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	for i, mig := range applied {
		if mig.Version != i+1 {
			t.Errorf("applied[%d].Version = %d, want %d", i, mig.Version, i+1)
		}
		if mig.Description == "" {
			t.Errorf("applied[%d] has empty description", i)
		}
		if len(mig.Checksum) != 64 {
			t.Errorf("applied[%d] checksum length = %d, want 64", i, len(mig.Checksum))
		}
		if mig.AppliedAt.IsZero() {
			t.Errorf("applied[%d] has zero AppliedAt", i)
		}
	}
}

// TestCurrentVersionFresh verifies an initialized but unmigrated
// database reports version zero.
func TestCurrentVersionFresh(t *testing.T) {
	database := openTestDB(t)
	m := NewMigrator(database.DB)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}
