package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/remit/db"
)

// CreateTestDB creates a migrated SQLite database in a temp directory.
// A file rather than :memory: so every pooled connection sees the same data,
// which the concurrent settlement tests depend on.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "remit_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
