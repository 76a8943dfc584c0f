// Package ledger provides an append-only history of switching events.
// It deduplicates scheduler occurrences and backs auditing.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventScheduleFired  EventType = "schedule_fired"
	EventSwitchApplied  EventType = "switch_applied"
	EventSwitchFailed   EventType = "switch_failed"
	EventDeviceReported EventType = "device_reported"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64
	EventID        string
	EventType      EventType
	Timestamp      time.Time
	Payload        map[string]any
	Source         string
	IdempotencyKey string
	SwitchID       string
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger and returns its event id.
// For switch_applied events with an idempotency key, uses INSERT OR IGNORE so
// that only the first completion of an occurrence is recorded.
func (l *Ledger) Append(eventType EventType, switchID, source, idempotencyKey string, payload map[string]any) (string, error) {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	eventID := uuid.NewString()

	insertSQL := `INSERT INTO event_ledger (event_id, event_type, timestamp, payload, source, idempotency_key, switch_id) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if eventType == EventSwitchApplied && idempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO event_ledger (event_id, event_type, timestamp, payload, source, idempotency_key, switch_id) VALUES (?, ?, ?, ?, ?, ?, ?)`
	}

	_, err = l.db.Exec(insertSQL, eventID, string(eventType), l.now().UTC().Unix(), string(payloadJSON), source, idempotencyKey, switchID)
	if err != nil {
		return "", err
	}
	return eventID, nil
}

// HasCompleted checks if an occurrence with the given idempotency key was applied successfully
func (l *Ledger) HasCompleted(idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false // Empty key = no dedupe
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM event_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(EventSwitchApplied)).Scan(&exists)

	return err == nil && exists == 1
}

// GetBySwitch returns the most recent entries of one switch
func (l *Ledger) GetBySwitch(switchID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_id, event_type, timestamp, payload, source, idempotency_key, switch_id
		FROM event_ledger
		WHERE switch_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, switchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_id, event_type, timestamp, payload, source, idempotency_key, switch_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var source, switchID, idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.EventType, &timestamp, &payloadStr, &source, &idempotencyKey, &switchID,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.SwitchID = switchID.String
		entry.IdempotencyKey = idempotencyKey.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
