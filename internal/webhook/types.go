package webhook

import (
	"context"

	"github.com/chimerabot/qqgate/internal/queue"
)

// EventQueuer defines the interface for enqueueing verified events.
type EventQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// Config holds webhook server configuration.
type Config struct {
	// Listen is the address the callback server binds to.
	Listen string `yaml:"listen"`

	// CallbackPath is the URL path registered with the platform.
	CallbackPath string `yaml:"callback_path"`

	// MaxBodySize is the maximum allowed request body size in bytes.
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`

	// MaxAttempts is how many dispatch attempts an accepted event gets.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// Operation codes in the callback envelope.
const (
	// OpDispatch carries a signed platform event.
	OpDispatch = 0

	// OpCallbackVerify is the callback-URL validation challenge.
	OpCallbackVerify = 13
)

// Signature headers required on every op=0 request.
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// ChallengeResponse is the JSON body answering an op=13 challenge.
type ChallengeResponse struct {
	PlainToken string `json:"plain_token"`
	Signature  string `json:"signature"`
}

// ErrorResponse is the JSON body for client errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize  = 1048576 // 1 MB
	DefaultCallbackPath = "/qqbot/callback"
)
