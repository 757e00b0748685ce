// Package testing provides shared test fixtures.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	signetdb "github.com/signetai/signet/db"
)

// CreateTestDB creates a migrated SQLite test database in a temp directory.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// File-backed rather than :memory: — the store uses the same
	// connection pool semantics as production.
	path := filepath.Join(t.TempDir(), "memories.db")
	db, err := signetdb.Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := signetdb.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
