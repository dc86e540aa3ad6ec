package cache

import (
	"fmt"
	"time"
)

// AddTombstone records a message id the user deleted so that stale
// server lists cannot resurrect it. Also removes the cached row.
func (db *DB) AddTombstone(conversationID, msgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tombstone: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO tombstones (conversation_id, msg_id, deleted_at) VALUES (?, ?, ?)`,
		conversationID, msgID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("write tombstone: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID); err != nil {
		return fmt.Errorf("remove tombstoned message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tombstone: %w", err)
	}
	return nil
}

// IsTombstoned reports whether a message id has been locally deleted.
func (db *DB) IsTombstoned(conversationID, msgID string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM tombstones WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return n > 0, nil
}

// Tombstones returns the deleted message ids for a conversation.
func (db *DB) Tombstones(conversationID string) (map[string]bool, error) {
	rows, err := db.Query(`SELECT msg_id FROM tombstones WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
