package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveConnections replaces the cached connection list with the
// server's authoritative one.
func (db *DB) SaveConnections(userIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin connections: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM connections`); err != nil {
		return fmt.Errorf("clear connections: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, id := range userIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO connections (user_id, added_at) VALUES (?, ?)`,
			id, now); err != nil {
			return fmt.Errorf("write connection: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit connections: %w", err)
	}
	return nil
}

// Connections returns the cached connection ids.
func (db *DB) Connections() ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM connections ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSyncState stores a key/value pair in the sync_state table.
func (db *DB) SetSyncState(key, value string) error {
	if _, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

// SyncState reads a value from the sync_state table. Missing keys
// return "".
func (db *DB) SyncState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get sync state: %w", err)
	}
	return value, nil
}
