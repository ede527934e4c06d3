package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// UpsertChat inserts or updates a cached conversation summary.
func (db *DB) UpsertChat(c *CachedChat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, kind, unread, last_message, members, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			unread = excluded.unread,
			last_message = excluded.last_message,
			members = excluded.members,
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, c.Unread, string(c.LastMessage), string(c.Members), now)
	return err
}

// ListChats returns cached summaries of the given kind for warm start.
func (db *DB) ListChats(kind string) ([]CachedChat, error) {
	rows, err := db.Query(`
		SELECT id, kind, unread, last_message, members
		FROM chats WHERE kind = ? ORDER BY updated_at DESC`, kind)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []CachedChat
	for rows.Next() {
		var c CachedChat
		var last, members string
		if err := rows.Scan(&c.ID, &c.Kind, &c.Unread, &last, &members); err != nil {
			return nil, err
		}
		c.LastMessage = json.RawMessage(last)
		c.Members = json.RawMessage(members)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// UpsertMessages stores a batch of timeline messages in one transaction.
func (db *DB) UpsertMessages(msgs []CachedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, payload, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				payload = excluded.payload,
				timestamp = excluded.timestamp`,
			m.ChatID, m.MsgID, string(m.Payload), m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.MsgID, err)
		}
	}

	return tx.Commit()
}

// RecentMessages returns up to limit cached messages for a conversation
// in descending timestamp order.
func (db *DB) RecentMessages(chatID string, limit int) ([]CachedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT chat_id, msg_id, payload, timestamp
		FROM messages WHERE chat_id = ?
		ORDER BY timestamp DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []CachedMessage
	for rows.Next() {
		var m CachedMessage
		var payload string
		if err := rows.Scan(&m.ChatID, &m.MsgID, &payload, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Payload = json.RawMessage(payload)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
