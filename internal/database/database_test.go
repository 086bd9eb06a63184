package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	// Verify that the embedded migrations filesystem contains expected files.
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("reading embedded migrations dir: %v", err)
	}

	if len(entries) == 0 {
		t.Fatal("no migration files embedded")
	}

	var hasUp, hasDown bool
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".up.sql") {
			hasUp = true
		}
		if strings.HasSuffix(name, ".down.sql") {
			hasDown = true
		}
	}

	if !hasUp {
		t.Error("no .up.sql migration files found")
	}
	if !hasDown {
		t.Error("no .down.sql migration files found")
	}
}

func TestMigration001_Content(t *testing.T) {
	// Verify the kv_store migration is readable and contains expected SQL.
	data, err := migrationsFS.ReadFile("migrations/001_kv_store.up.sql")
	if err != nil {
		t.Fatalf("reading 001_kv_store.up.sql: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "CREATE TABLE kv_store") {
		t.Error("migration missing expected SQL: CREATE TABLE kv_store")
	}
}

func TestMigration001_Down(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_kv_store.down.sql")
	if err != nil {
		t.Fatalf("reading 001_kv_store.down.sql: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "DROP TABLE") {
		t.Error("down migration should contain DROP TABLE statements")
	}
}

func TestMigration002_Content(t *testing.T) {
	// Verify the queue_tasks migration is readable and contains expected SQL.
	data, err := migrationsFS.ReadFile("migrations/002_queue_tasks.up.sql")
	if err != nil {
		t.Fatalf("reading 002_queue_tasks.up.sql: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "CREATE TABLE queue_tasks") {
		t.Error("migration missing expected SQL: CREATE TABLE queue_tasks")
	}
}

func TestMigration002_Down(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/002_queue_tasks.down.sql")
	if err != nil {
		t.Fatalf("reading 002_queue_tasks.down.sql: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "DROP TABLE") {
		t.Error("down migration should contain DROP TABLE statements")
	}
}
