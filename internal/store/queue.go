package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrQueueFull is returned when the outbound queue is at capacity.
var ErrQueueFull = errors.New("outbound queue full")

// EnqueueAction adds an outbound action to the persistent queue.
// capacity bounds the number of entries still awaiting a send.
func (db *DB) EnqueueAction(clientKey, event string, payload json.RawMessage, capacity int) error {
	queued, err := db.QueuedCount()
	if err != nil {
		return err
	}
	if queued >= capacity {
		return ErrQueueFull
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbound_queue (client_key, event, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientKey, event, string(payload), now, now)
	if err != nil {
		return fmt.Errorf("enqueue action: %w", err)
	}
	return nil
}

// QueuedCount returns the number of entries awaiting a send.
func (db *DB) QueuedCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbound_queue WHERE status = 'queued'`).Scan(&n)
	return n, err
}

// PendingActions returns queued entries in FIFO order.
func (db *DB) PendingActions() ([]QueueEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_key, event, payload, status, error_message
		FROM outbound_queue WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.ClientKey, &e.Event, &payload, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkActionSending updates a queue entry to 'sending' status.
func (db *DB) MarkActionSending(clientKey string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound_queue SET status = 'sending', updated_at = ? WHERE client_key = ?`, now, clientKey)
	return err
}

// MarkActionSent updates a queue entry to 'sent'.
func (db *DB) MarkActionSent(clientKey string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound_queue SET status = 'sent', updated_at = ? WHERE client_key = ?`, now, clientKey)
	return err
}

// MarkActionFailed updates a queue entry to 'failed' with an error message.
func (db *DB) MarkActionFailed(clientKey, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound_queue SET status = 'failed', error_message = ?, updated_at = ? WHERE client_key = ?`, errMsg, now, clientKey)
	return err
}

// RequeueSending returns 'sending' entries to 'queued'. Called on
// startup so actions interrupted mid-flush are retried.
func (db *DB) RequeueSending() error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbound_queue SET status = 'queued', updated_at = ? WHERE status = 'sending'`, now)
	return err
}

// PruneSentActions removes sent entries older than the given age.
func (db *DB) PruneSentActions(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	_, err := db.Exec(`DELETE FROM outbound_queue WHERE status = 'sent' AND updated_at < ?`, cutoff)
	return err
}
