package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chimerabot/qqgate/internal/storage"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "qqgate.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)

	id1, err := q.Enqueue(context.Background(), EnqueueRequest{
		EventType: "C2C_MESSAGE_CREATE",
		Payload:   json.RawMessage(`{"id":"m1"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	id2, err := q.Enqueue(context.Background(), EnqueueRequest{
		EventType: "GROUP_AT_MESSAGE_CREATE",
		Payload:   json.RawMessage(`{"id":"m2"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}

	e1, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue 1: %v", err)
	}
	if e1 == nil || e1.ID != id1 || e1.Status != StatusRunning || e1.StartedAt == nil {
		t.Fatalf("unexpected event1: %#v", e1)
	}
	if string(e1.Payload) != `{"id":"m1"}` {
		t.Fatalf("payload altered: %s", e1.Payload)
	}

	e2, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue 2: %v", err)
	}
	if e2 == nil || e2.ID != id2 {
		t.Fatalf("unexpected event2: %#v", e2)
	}

	e3, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue 3: %v", err)
	}
	if e3 != nil {
		t.Fatalf("expected empty queue, got %#v", e3)
	}
}

func TestQueueEnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	key := DedupeKey("1690000000", []byte(`{"op":0}`))

	if _, err := q.Enqueue(context.Background(), EnqueueRequest{
		EventType: "C2C_MESSAGE_CREATE",
		DedupeKey: key,
	}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	_, err := q.Enqueue(context.Background(), EnqueueRequest{
		EventType: "C2C_MESSAGE_CREATE",
		DedupeKey: key,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	// Only one event should be claimable.
	if e, err := q.Dequeue(context.Background()); err != nil || e == nil {
		t.Fatalf("Dequeue 1: e=%v err=%v", e, err)
	}
	if e, err := q.Dequeue(context.Background()); err != nil || e != nil {
		t.Fatalf("expected empty queue, got e=%v err=%v", e, err)
	}
}

func TestDedupeKeyStable(t *testing.T) {
	t.Parallel()

	a := DedupeKey("123", []byte("body"))
	b := DedupeKey("123", []byte("body"))
	if a != b {
		t.Fatalf("same inputs gave different keys: %s vs %s", a, b)
	}
	if DedupeKey("124", []byte("body")) == a {
		t.Fatal("different timestamp gave same key")
	}
	if DedupeKey("123", []byte("body2")) == a {
		t.Fatal("different body gave same key")
	}
}

func TestQueueCompleteWritesEventLog(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "qqgate.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q := New(db)

	id, err := q.Enqueue(context.Background(), EnqueueRequest{EventType: "C2C_MESSAGE_CREATE"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	lastErr := "reply failed"
	if err := q.Complete(context.Background(), id, StatusFailed, &lastErr); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM event_log WHERE event_type='C2C_MESSAGE_CREATE';").Scan(&count); err != nil {
		t.Fatalf("count event_log: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event_log row, got %d", count)
	}
}

func TestQueueRetryUntilDead(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)

	id, err := q.Enqueue(context.Background(), EnqueueRequest{
		EventType:   "C2C_MESSAGE_CREATE",
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Attempt 1 fails; event requeues with backoff 0 so it is claimable again.
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue 1: %v", err)
	}
	if err := q.Retry(context.Background(), id, "boom", 0); err != nil {
		t.Fatalf("Retry 1: %v", err)
	}

	e, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue 2: %v", err)
	}
	if e == nil || e.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %#v", e)
	}

	// Attempt 2 fails; max_attempts reached, event goes dead.
	if err := q.Retry(context.Background(), id, "boom again", 0); err != nil {
		t.Fatalf("Retry 2: %v", err)
	}
	if e, err := q.Dequeue(context.Background()); err != nil || e != nil {
		t.Fatalf("expected empty queue after dead, got e=%v err=%v", e, err)
	}

	var status string
	if err := q.db.QueryRow("SELECT status FROM event_queue WHERE id=?;", id).Scan(&status); err != nil {
		t.Fatalf("load status: %v", err)
	}
	if Status(status) != StatusDead {
		t.Fatalf("status = %s, want dead", status)
	}
}

func TestQueueRetryBackoffDelaysDequeue(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)

	id, err := q.Enqueue(context.Background(), EnqueueRequest{EventType: "C2C_MESSAGE_CREATE"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Retry(context.Background(), id, "boom", time.Hour); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	e, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue after retry: %v", err)
	}
	if e != nil {
		t.Fatalf("event claimable before backoff elapsed: %#v", e)
	}
}
