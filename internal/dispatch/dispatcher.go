package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/chimerabot/qqgate/internal/log"
)

// Handler processes one verified platform event. Implementations perform
// whatever downstream action the event calls for (typically posting a reply
// through the bot API) and report failure without crashing the gateway.
type Handler interface {
	Handle(ctx context.Context, eventType string, data json.RawMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, eventType string, data json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, eventType string, data json.RawMessage) error {
	return f(ctx, eventType, data)
}

// DispatchError means the routing machinery itself failed. Distinct from
// HandlerError so callers can tell "we could not understand the event" from
// "we understood it but processing failed".
type DispatchError struct {
	EventType string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.EventType, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// HandlerError wraps a failure inside a registered handler.
type HandlerError struct {
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s: %v", e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Registry routes events by type. Register all handlers before serving
// traffic; the map is read-only afterwards and safe for concurrent Route
// calls.
type Registry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   log.WithComponent("dispatch"),
	}
}

// Register binds a handler to an event type, replacing any previous binding.
func (r *Registry) Register(eventType string, h Handler) {
	r.handlers[eventType] = h
}

// EventTypes returns the registered event types, sorted.
func (r *Registry) EventTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Route invokes the handler registered for eventType. An unregistered type
// is not an error: it is logged once at info level and the call succeeds,
// so new platform event types never cause redelivery. A handler failure is
// returned as *HandlerError.
func (r *Registry) Route(ctx context.Context, eventType string, data json.RawMessage) error {
	h, ok := r.handlers[eventType]
	if !ok {
		r.logger.Info("ignoring unhandled event type", "event_type", eventType)
		return nil
	}

	if err := h.Handle(ctx, eventType, data); err != nil {
		return &HandlerError{EventType: eventType, Err: err}
	}
	return nil
}
