// Package handlers contains the built-in event handlers for platform
// message events. Reply generation itself lives behind the Replier
// interface; these handlers only normalize the payload and hand it over.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chimerabot/qqgate/internal/dispatch"
	"github.com/chimerabot/qqgate/internal/log"
	"github.com/chimerabot/qqgate/internal/payload"
)

// Event types the built-in handlers cover.
const (
	EventC2CMessageCreate     = "C2C_MESSAGE_CREATE"
	EventGroupAtMessageCreate = "GROUP_AT_MESSAGE_CREATE"
)

// Replier posts a response to a platform message. Implementations wrap the
// outbound bot API; failures are reported, never panicked.
type Replier interface {
	Reply(ctx context.Context, msg *payload.Message) error
}

// MessageHandler normalizes a message event and delegates to a Replier.
type MessageHandler struct {
	replier Replier
	logger  *slog.Logger
}

// NewMessageHandler creates a handler backed by the given replier.
func NewMessageHandler(replier Replier) *MessageHandler {
	return &MessageHandler{
		replier: replier,
		logger:  log.WithComponent("handlers"),
	}
}

// Handle implements dispatch.Handler.
func (h *MessageHandler) Handle(ctx context.Context, eventType string, data json.RawMessage) error {
	msg, err := payload.ParseMessage(data)
	if err != nil {
		return fmt.Errorf("parse %s payload: %w", eventType, err)
	}

	h.logger.Debug("handling message event",
		"event_type", eventType,
		"message_id", msg.ID,
	)

	if err := h.replier.Reply(ctx, msg); err != nil {
		return fmt.Errorf("reply to message %s: %w", msg.ID, err)
	}
	return nil
}

// Register binds the built-in message handlers onto a registry.
func Register(reg *dispatch.Registry, replier Replier) {
	h := NewMessageHandler(replier)
	reg.Register(EventC2CMessageCreate, h)
	reg.Register(EventGroupAtMessageCreate, h)
}

// LogReplier is the default Replier: it records the inbound message and
// does nothing else. Useful until a real bot client is wired in, and for
// verifying the pipeline end to end.
type LogReplier struct {
	logger *slog.Logger
}

func NewLogReplier() *LogReplier {
	return &LogReplier{logger: log.WithComponent("replier")}
}

func (r *LogReplier) Reply(ctx context.Context, msg *payload.Message) error {
	r.logger.Info("message received",
		"message_id", msg.ID,
		"content", msg.Content,
		"group_openid", msg.GroupOpenID,
	)
	return nil
}
