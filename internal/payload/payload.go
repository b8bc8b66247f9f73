// Package payload decodes raw callback bodies into the platform's envelope
// shape and normalizes message events into a stable struct.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformed means the request body is not a valid UTF-8 JSON object.
var ErrMalformed = errors.New("malformed payload")

// Envelope is the outer shape of every callback request.
// Op selects the interpretation of D; T is set only for event dispatches.
// Op stays nil when the field is absent so callers can tell "missing" from 0.
type Envelope struct {
	Op *int            `json:"op"`
	T  string          `json:"t"`
	D  json.RawMessage `json:"d"`
}

// Challenge is the D payload of a callback-URL validation request (op=13).
// Absent fields decode as empty strings; the challenge must always get a
// response, so nothing here is required.
type Challenge struct {
	PlainToken string `json:"plain_token"`
	EventTS    string `json:"event_ts"`
}

// Parse decodes raw into an Envelope. Returns ErrMalformed if the bytes are
// not valid UTF-8 or do not decode as a JSON object. Parsing is otherwise
// total: absent fields keep their zero values.
func Parse(raw []byte) (*Envelope, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

// ParseChallenge extracts the plain_token/event_ts pair from a challenge D
// payload. Never fails: a nil or malformed D yields empty fields, because
// platform verification tooling treats any non-200 here as fatal.
func ParseChallenge(d json.RawMessage) Challenge {
	var c Challenge
	if len(d) > 0 {
		// Decode errors intentionally ignored; see above.
		_ = json.Unmarshal(d, &c)
	}
	return c
}

// Message is a platform message event normalized across channel shapes.
// Direct (C2C) and group payloads carry different subsets of these fields;
// anything absent keeps its zero value rather than failing the decode.
type Message struct {
	ID               string           `json:"id"`
	Content          string           `json:"content"`
	ChannelID        string           `json:"channel_id"`
	GuildID          string           `json:"guild_id"`
	GroupOpenID      string           `json:"group_openid"`
	Author           map[string]any   `json:"author"`
	Member           map[string]any   `json:"member"`
	MessageReference map[string]any   `json:"message_reference"`
	Mentions         []map[string]any `json:"mentions"`
	Attachments      []map[string]any `json:"attachments"`
	Seq              int              `json:"seq"`
	MsgSeq           int              `json:"msg_seq"`
	SeqInChannel     string           `json:"seq_in_channel"`
	Timestamp        string           `json:"timestamp"`
}

// ParseMessage decodes an event D payload into a Message, filling defaults
// for absent collection fields so handlers never see nil maps.
func ParseMessage(d json.RawMessage) (*Message, error) {
	var m Message
	if len(d) > 0 {
		if err := json.Unmarshal(d, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if m.Author == nil {
		m.Author = map[string]any{}
	}
	if m.Member == nil {
		m.Member = map[string]any{}
	}
	if m.MessageReference == nil {
		m.MessageReference = map[string]any{}
	}
	if m.Mentions == nil {
		m.Mentions = []map[string]any{}
	}
	if m.Attachments == nil {
		m.Attachments = []map[string]any{}
	}
	return &m, nil
}
