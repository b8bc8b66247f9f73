package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chimerabot/qqgate/internal/log"
	"github.com/chimerabot/qqgate/internal/queue"
)

// WorkerConfig tunes the queue-draining loop.
type WorkerConfig struct {
	// PollInterval is how often the worker checks for queued events.
	PollInterval time.Duration

	// HandlerTimeout bounds a single handler invocation. A hung handler
	// counts as a failed attempt instead of stalling the loop forever.
	HandlerTimeout time.Duration

	// RetryBackoff is the base delay before a failed event is retried.
	// The delay doubles with each attempt.
	RetryBackoff time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	return c
}

// Worker drains the event queue and routes each event through the registry.
type Worker struct {
	queue    EventQueue
	registry *Registry
	cfg      WorkerConfig
	logger   *slog.Logger
}

// NewWorker creates a queue worker.
func NewWorker(q EventQueue, reg *Registry, cfg WorkerConfig) *Worker {
	return &Worker{
		queue:    q,
		registry: reg,
		cfg:      cfg.withDefaults(),
		logger:   log.WithComponent("worker"),
	}
}

// Start runs the dispatch loop. Events are processed serially, oldest first.
// This is a blocking call that runs until ctx is cancelled; an event in
// flight at cancellation runs to completion.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("dispatch worker started", "poll_interval", w.cfg.PollInterval)
	defer w.logger.Info("dispatch worker stopped")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Drain everything that is ready, then wait for the next tick.
			for {
				processed, err := w.processNextEvent(ctx)
				if err != nil {
					w.logger.Error("failed to process event", "error", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// processNextEvent claims and handles one event. Returns false when the
// queue had nothing ready.
func (w *Worker) processNextEvent(ctx context.Context) (bool, error) {
	event, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if event == nil {
		return false, nil
	}

	w.handleEvent(ctx, event)
	return true, nil
}

func (w *Worker) handleEvent(ctx context.Context, event *queue.Event) {
	logger := log.WithEvent(event.ID).With("event_type", event.EventType)
	logger.Info("dispatching event", "attempt", event.Attempt)

	// Once an event is claimed it runs to completion even during shutdown,
	// and its status write must land. Detach from the loop's cancellation.
	ctx = context.WithoutCancel(ctx)
	hctx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
	defer cancel()

	err := w.registry.Route(hctx, event.EventType, event.Payload)
	if err == nil {
		logger.Info("event handled")
		w.complete(ctx, event.ID, queue.StatusSucceeded, nil)
		return
	}

	var herr *HandlerError
	if errors.As(err, &herr) {
		// Handler failures are retryable: the event was understood, the
		// downstream action failed.
		errMsg := herr.Error()
		logger.Warn("handler failed", "error", errMsg, "attempt", event.Attempt)
		backoff := w.cfg.RetryBackoff << (event.Attempt - 1)
		if rerr := w.queue.Retry(ctx, event.ID, errMsg, backoff); rerr != nil {
			logger.Error("failed to schedule retry", "error", rerr)
		}
		return
	}

	// Anything else is a routing failure; retrying cannot fix it.
	errMsg := err.Error()
	logger.Error("dispatch failed", "error", errMsg)
	w.complete(ctx, event.ID, queue.StatusFailed, &errMsg)
}

func (w *Worker) complete(ctx context.Context, eventID string, status queue.Status, lastError *string) {
	if err := w.queue.Complete(ctx, eventID, status, lastError); err != nil {
		w.logger.Error("failed to complete event", "event_id", eventID, "error", err)
	}
}
