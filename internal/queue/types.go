package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Event is a verified platform event persisted for asynchronous dispatch.
type Event struct {
	ID          string
	EventType   string
	Payload     json.RawMessage
	Status      Status
	Attempt     int
	MaxAttempts int
	DedupeKey   *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRetryAt *time.Time
	LastError   *string
}

type EnqueueRequest struct {
	EventType   string
	Payload     json.RawMessage
	MaxAttempts int
	DedupeKey   string
}
