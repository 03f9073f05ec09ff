package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store holds the activity log and its outbox
type Store struct {
	DB *sql.DB
}

// ActivityEvent is one row of the activity log
type ActivityEvent struct {
	EventID   string
	TS        int64
	UserID    string
	Provider  string
	Action    string
	MessageID string
	ResultID  string
}

// OutboxMessage represents a message in the outbox
type OutboxMessage struct {
	ID        int64
	Subject   string
	EventType string
	Payload   []byte
	MsgID     string
	Retries   int
}

// Open opens or creates the activity database
func Open(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// AppendActivity writes ev and its outbox entry in one transaction
func (s *Store) AppendActivity(ctx context.Context, ev ActivityEvent, out OutboxMessage) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := s.AppendActivityTx(ctx, tx, ev, out); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AppendActivityTx appends an activity event and outbox entry within tx
func (s *Store) AppendActivityTx(ctx context.Context, tx *sql.Tx, ev ActivityEvent, out OutboxMessage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activity_events
		(event_id, ts, user_id, provider, action, message_id, result_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.TS, ev.UserID, ev.Provider, ev.Action, ev.MessageID, ev.ResultID)
	if err != nil {
		return fmt.Errorf("failed to insert activity event: %w", err)
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now, out.Subject, out.EventType, out.Payload, out.MsgID, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}

	return nil
}

// ListActivity returns the newest events of userID first
func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]ActivityEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT event_id, ts, user_id, provider, action, message_id, result_id
		FROM activity_events
		WHERE user_id = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var events []ActivityEvent
	for rows.Next() {
		var ev ActivityEvent
		if err := rows.Scan(&ev.EventID, &ev.TS, &ev.UserID, &ev.Provider, &ev.Action, &ev.MessageID, &ev.ResultID); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DequeueOutbox fetches unpublished messages that are due
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	now := time.Now().Unix()

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subject, event_type, payload, msg_id, retries
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.EventType, &msg.Payload, &msg.MsgID, &msg.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkPublished marks an outbox message as published
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry updates retry count and next attempt time
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// PendingOutbox counts unpublished messages, due or not
func (s *Store) PendingOutbox(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}
