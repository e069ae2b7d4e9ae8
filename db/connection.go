// Package db opens remit's SQLite database and applies its embedded schema.
package db

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/sym"
)

// BusyTimeoutMS is how long a connection waits for the write lock before SQLITE_BUSY
const BusyTimeoutMS = 5000

// DSN builds a go-sqlite3 connection string for path.
//
// Pragmas go in the DSN rather than through Exec so that every pooled
// connection gets them, not just the first. _txlock=immediate makes each
// transaction take the write lock at BEGIN: a settlement claim re-reads and
// updates the same row, and a deferred transaction could lose its read
// snapshot between the two.
func DSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", fmt.Sprint(BusyTimeoutMS))
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Open opens a SQLite database at the specified path with optimized settings.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}

	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", true,
			"busy_timeout_ms", BusyTimeoutMS,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and brings its schema up to date.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to migrate %s", path)
	}

	return db, nil
}
