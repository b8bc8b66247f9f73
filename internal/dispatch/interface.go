package dispatch

import (
	"context"
	"time"

	"github.com/chimerabot/qqgate/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/chimerabot/qqgate/internal/dispatch EventQueue

// EventQueue defines the queue operations the worker needs.
type EventQueue interface {
	Dequeue(ctx context.Context) (*queue.Event, error)
	Complete(ctx context.Context, eventID string, status queue.Status, lastError *string) error
	Retry(ctx context.Context, eventID string, lastError string, backoff time.Duration) error
}
