package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mataid/matchat/internal/model"
)

// UpsertMessage inserts or updates a message. Idempotent on
// (conversation_id, msg_id); a re-delivered message updates the read
// flag and body but never duplicates. pending marks a message composed
// offline and not yet confirmed by the server.
func (db *DB) UpsertMessage(m *model.Message, pending bool) error {
	attachment, err := encodeAttachment(m.Attachment)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, receiver_id, content, msg_type, attachment, read, pending, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			read = MAX(messages.read, excluded.read),
			pending = MIN(messages.pending, excluded.pending)`,
		m.ConversationID, m.ID, m.SenderID, m.ReceiverID, m.Content, string(m.Type),
		attachment, boolInt(m.Read), boolInt(pending), m.Timestamp.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// HasMessage reports whether a message id is cached for the
// conversation.
func (db *DB) HasMessage(conversationID, msgID string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check message: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns the cached conversation ordered by timestamp
// then id. Tombstoned ids are excluded even if a stale row survives.
func (db *DB) ListMessages(conversationID string) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, receiver_id, content, msg_type, attachment, read, timestamp
		FROM messages m
		WHERE conversation_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM tombstones t
			WHERE t.conversation_id = m.conversation_id AND t.msg_id = m.msg_id)
		ORDER BY timestamp, msg_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// PendingMessages returns offline-composed messages not yet confirmed
// by the server, oldest first.
func (db *DB) PendingMessages(conversationID string) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, receiver_id, content, msg_type, attachment, read, timestamp
		FROM messages
		WHERE conversation_id = ? AND pending = 1
		ORDER BY timestamp, msg_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// DeleteMessage removes a message row. Missing rows are fine.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkReadBySender flips read=true on every cached message of the
// conversation sent by senderID.
func (db *DB) MarkReadBySender(conversationID, senderID string) error {
	if _, err := db.Exec(`UPDATE messages SET read = 1 WHERE conversation_id = ? AND sender_id = ?`,
		conversationID, senderID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// ReplaceMessages rewrites the confirmed portion of a conversation
// with the authoritative server list, keeping pending offline-composed
// rows. Runs in one transaction so a crash mid-reconciliation cannot
// leave a half-written conversation.
func (db *DB) ReplaceMessages(conversationID string, msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND pending = 0`,
		conversationID); err != nil {
		return fmt.Errorf("clear confirmed messages: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		attachment, err := encodeAttachment(m.Attachment)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, receiver_id, content, msg_type, attachment, read, pending, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				content = excluded.content,
				read = excluded.read,
				pending = 0`,
			m.ConversationID, m.ID, m.SenderID, m.ReceiverID, m.Content, string(m.Type),
			attachment, boolInt(m.Read), m.Timestamp.UnixMilli(), now); err != nil {
			return fmt.Errorf("write message in replace: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var (
			m          model.Message
			msgType    string
			attachment sql.NullString
			read       int
			ts         int64
		)
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.ReceiverID,
			&m.Content, &msgType, &attachment, &read, &ts); err != nil {
			return nil, err
		}
		m.Type = model.MessageType(msgType)
		m.Read = read != 0
		m.Timestamp = time.UnixMilli(ts).UTC()
		if attachment.Valid && attachment.String != "" {
			var mat model.Material
			if err := json.Unmarshal([]byte(attachment.String), &mat); err != nil {
				return nil, fmt.Errorf("decode attachment: %w", err)
			}
			m.Attachment = &mat
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func encodeAttachment(mat *model.Material) (any, error) {
	if mat == nil {
		return nil, nil
	}
	data, err := json.Marshal(mat)
	if err != nil {
		return nil, fmt.Errorf("encode attachment: %w", err)
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
