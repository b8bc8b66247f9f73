package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/chimerabot/qqgate/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func TestRouteInvokesRegisteredHandler(t *testing.T) {
	reg := NewRegistry()

	var gotType string
	var gotData json.RawMessage
	reg.Register("C2C_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		gotType = eventType
		gotData = data
		return nil
	}))

	data := json.RawMessage(`{"id":"m1","content":"hi"}`)
	if err := reg.Route(context.Background(), "C2C_MESSAGE_CREATE", data); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if gotType != "C2C_MESSAGE_CREATE" {
		t.Errorf("eventType = %q", gotType)
	}
	if string(gotData) != string(data) {
		t.Errorf("data altered: %s", gotData)
	}
}

func TestRouteUnknownTypeSucceedsWithOneLogEntry(t *testing.T) {
	reg := NewRegistry()

	var buf bytes.Buffer
	reg.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	if err := reg.Route(context.Background(), "SOME_FUTURE_EVENT", nil); err != nil {
		t.Fatalf("Route: %v", err)
	}

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if buf.Len() == 0 {
		t.Fatal("expected one informational log entry, got none")
	}
	if lines != 1 {
		t.Fatalf("expected exactly 1 log entry, got %d: %s", lines, buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["event_type"] != "SOME_FUTURE_EVENT" {
		t.Errorf("event_type = %v", entry["event_type"])
	}
}

func TestRouteWrapsHandlerFailure(t *testing.T) {
	reg := NewRegistry()

	cause := fmt.Errorf("reply delivery failed")
	reg.Register("GROUP_AT_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		return cause
	}))

	err := reg.Route(context.Background(), "GROUP_AT_MESSAGE_CREATE", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("err = %T, want *HandlerError", err)
	}
	if herr.EventType != "GROUP_AT_MESSAGE_CREATE" {
		t.Errorf("EventType = %q", herr.EventType)
	}
	if !errors.Is(err, cause) {
		t.Error("HandlerError does not wrap the underlying cause")
	}

	var derr *DispatchError
	if errors.As(err, &derr) {
		t.Error("handler failure must not be a DispatchError")
	}
}

func TestRegisterReplacesHandler(t *testing.T) {
	reg := NewRegistry()

	reg.Register("C2C_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		return fmt.Errorf("old handler")
	}))
	reg.Register("C2C_MESSAGE_CREATE", HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error {
		return nil
	}))

	if err := reg.Route(context.Background(), "C2C_MESSAGE_CREATE", nil); err != nil {
		t.Fatalf("Route should use the replacement handler: %v", err)
	}
}

func TestEventTypesSorted(t *testing.T) {
	reg := NewRegistry()
	noop := HandlerFunc(func(ctx context.Context, eventType string, data json.RawMessage) error { return nil })
	reg.Register("GROUP_AT_MESSAGE_CREATE", noop)
	reg.Register("C2C_MESSAGE_CREATE", noop)

	types := reg.EventTypes()
	if len(types) != 2 || types[0] != "C2C_MESSAGE_CREATE" || types[1] != "GROUP_AT_MESSAGE_CREATE" {
		t.Fatalf("EventTypes = %v", types)
	}
}
