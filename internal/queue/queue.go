// Package queue is the persistent buffer between the webhook ACK and handler
// execution. The endpoint enqueues a verified event and responds immediately;
// a worker drains the queue on its own clock, so a slow handler can never
// stall the platform into a retry storm.
package queue

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// ErrDuplicate is returned by Enqueue when the dedupe key is already present.
// The caller should treat this as success: the platform redelivered an event
// that was already accepted.
var ErrDuplicate = errors.New("event already enqueued")

// timeFormat is RFC 3339 with a fixed-width fraction. The dequeue query
// compares next_retry_at as a string, so stored timestamps must sort
// lexicographically in time order; RFC3339Nano trims trailing zeros and
// breaks that.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// DedupeKey derives a stable identity for a delivery from the signature
// timestamp and the raw body bytes. A platform retry resends both verbatim,
// so the key collides exactly when the delivery is a duplicate.
func DedupeKey(timestamp string, rawBody []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(timestamp))
	_, _ = h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}

// Enqueue inserts an event for dispatch. Returns the event id, or
// ErrDuplicate if req.DedupeKey matches an already-enqueued event.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.EventType == "" {
		return "", fmt.Errorf("event_type is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(timeFormat)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}
	var dedupeKey any
	if req.DedupeKey != "" {
		dedupeKey = req.DedupeKey
	}

	res, err := q.db.ExecContext(ctx, `
INSERT OR IGNORE INTO event_queue(
  id, event_type, payload, status, attempt, max_attempts, dedupe_key, created_at
)
VALUES(?, ?, ?, ?, 1, ?, ?, ?);
`, id, req.EventType, payload, StatusQueued, maxAttempts, dedupeKey, now)
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("enqueue event: %w", err)
	}
	if n == 0 {
		return "", ErrDuplicate
	}
	return id, nil
}

// Dequeue claims the oldest queued event and marks it running. Returns
// (nil, nil) if the queue is empty or every queued event is waiting on a
// retry backoff.
func (q *Queue) Dequeue(ctx context.Context) (*Event, error) {
	now := time.Now().UTC()
	nowS := now.Format(timeFormat)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM event_queue
  WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE event_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING
  id, event_type, payload, status, attempt, max_attempts, dedupe_key,
  created_at, started_at, completed_at, next_retry_at, last_error;
`, StatusQueued, nowS, StatusRunning, nowS)

	var (
		e            Event
		payload      sql.NullString
		dedupeKey    sql.NullString
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		nextRetryAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.EventType, &payload, &statusS, &e.Attempt, &e.MaxAttempts, &dedupeKey,
		&createdAtS, &startedAtS, &completedAtS, &nextRetryAtS, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue event: %w", err)
	}

	e.Status = Status(statusS)
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	if dedupeKey.Valid {
		e.DedupeKey = &dedupeKey.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		e.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			e.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			e.CompletedAt = &t
		}
	}
	if nextRetryAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRetryAtS.String); err == nil {
			e.NextRetryAt = &t
		}
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	return &e, nil
}

// Complete marks an event terminal and appends a row to event_log.
func (q *Queue) Complete(ctx context.Context, eventID string, status Status, lastError *string) error {
	if eventID == "" {
		return fmt.Errorf("eventID is empty")
	}
	if status != StatusSucceeded && status != StatusFailed && status != StatusDead {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		eventType string
		attempt   int
		createdAt string
	)
	if err := tx.QueryRowContext(ctx, `
SELECT event_type, attempt, created_at
FROM event_queue
WHERE id = ?;
`, eventID).Scan(&eventType, &attempt, &createdAt); err != nil {
		return fmt.Errorf("load event for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(timeFormat)

	_, err = tx.ExecContext(ctx, `
UPDATE event_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, eventID)
	if err != nil {
		return fmt.Errorf("update event completion: %w", err)
	}

	logID := fmt.Sprintf("%s-%d", eventID, attempt)
	_, err = tx.ExecContext(ctx, `
INSERT INTO event_log(id, event_type, status, attempt, created_at, completed_at, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, logID, eventType, status, attempt, createdAt, completedAt, lastError)
	if err != nil {
		return fmt.Errorf("insert event_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Retry requeues a running event after a handler failure, or marks it dead
// once max_attempts is exhausted. Each failed attempt is appended to
// event_log either way.
func (q *Queue) Retry(ctx context.Context, eventID string, lastError string, backoff time.Duration) error {
	if eventID == "" {
		return fmt.Errorf("eventID is empty")
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		eventType   string
		attempt     int
		maxAttempts int
		createdAt   string
	)
	if err := tx.QueryRowContext(ctx, `
SELECT event_type, attempt, max_attempts, created_at
FROM event_queue
WHERE id = ?;
`, eventID).Scan(&eventType, &attempt, &maxAttempts, &createdAt); err != nil {
		return fmt.Errorf("load event for retry: %w", err)
	}

	now := time.Now().UTC()
	nowS := now.Format(timeFormat)

	logID := fmt.Sprintf("%s-%d", eventID, attempt)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO event_log(id, event_type, status, attempt, created_at, completed_at, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, logID, eventType, StatusFailed, attempt, createdAt, nowS, lastError); err != nil {
		return fmt.Errorf("insert event_log: %w", err)
	}

	if attempt >= maxAttempts {
		if _, err := tx.ExecContext(ctx, `
UPDATE event_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, StatusDead, nowS, lastError, eventID); err != nil {
			return fmt.Errorf("mark event dead: %w", err)
		}
	} else {
		nextRetry := now.Add(backoff).Format(timeFormat)
		if _, err := tx.ExecContext(ctx, `
UPDATE event_queue
SET status = ?, attempt = attempt + 1, next_retry_at = ?, last_error = ?
WHERE id = ?;
`, StatusQueued, nextRetry, lastError, eventID); err != nil {
			return fmt.Errorf("requeue event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
