package migrate_test

import (
	"testing"

	"boardflow/internal/db"
	"boardflow/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected version >= 1, got %d", version)
	}
	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&count); err != nil {
		t.Fatalf("schema missing organizations table: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh database should be empty, found %d rows", count)
	}
}
