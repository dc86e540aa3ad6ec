// Package cache is the client's persistent local store: per
// conversation message lists, the deleted-id (tombstone) set and the
// connection list. It is both the offline fallback and the merge
// source for reconciliation.
package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection for a profile's cache.db.
type DB struct {
	*sql.DB
}

// Open creates a sqlite connection with WAL mode and busy timeout. A
// write is durable once the statement returns, which is what lets the
// engine confirm optimistic updates to the UI.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return &DB{db}, nil
}
