package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestOpenWithMigrations(t *testing.T) {
	t.Run("creates the full schema", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{"schema_migrations", "payers", "payees", "schedules", "schedule_receipts", "settlement_attempts"} {
			assert.True(t, tableExists(t, db, table), "missing table %s", table)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		var first int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&first))
		db.Close()

		db, err = OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()
		var second int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&second))

		assert.Equal(t, first, second)
		assert.Equal(t, 5, second)
	})

	t.Run("wraps migration errors with context", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		_, err = db.Exec("CREATE TABLE schema_migrations (bad_schema TEXT)")
		require.NoError(t, err)
		db.Close()

		db, err = OpenWithMigrations(dbPath, nil)
		require.Error(t, err)
		assert.Nil(t, db)
		detailed := fmt.Sprintf("%+v", err)
		assert.Contains(t, detailed, "failed to migrate")
	})
}

func TestSchemaConstraints(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	t.Run("schedule requires existing payer", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO schedules (id, payer_id, payee_id, amount, currency, frequency,
			start_at, next_due_at, rule, created_at, updated_at)
			VALUES ('s1', 'missing', 'missing', '10', 'USD', 'daily', 'x', 'x', '{}', 'x', 'x')`)
		assert.Error(t, err)
	})

	t.Run("status is constrained", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO payers VALUES ('p1', 'a@b.c', 'h', 'addr', x'00', 'ih', 'now')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO payees (id, routing_address, created_at) VALUES ('r1', 'addr', 'now')`)
		require.NoError(t, err)

		_, err = db.Exec(`INSERT INTO schedules (id, payer_id, payee_id, amount, currency, frequency,
			start_at, next_due_at, status, rule, created_at, updated_at)
			VALUES ('s1', 'p1', 'r1', '10', 'USD', 'daily', 'x', 'x', 'deleted', '{}', 'x', 'x')`)
		assert.Error(t, err)
	})
}
