// Package protocol defines the WebSocket message types and structures
// exchanged between the community platform server and its clients. All
// messages are JSON text frames following a consistent envelope format with a
// "type" discriminator and a "payload" object.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypePing = "ping"
)

// Server -> Client message types.
const (
	TypeConnected      = "connected"
	TypePong           = "pong"
	TypePostCreated    = "post.created"
	TypeCommentCreated = "comment.created"
	TypePollTally      = "poll.tally"
	TypeReportOpened   = "report.opened"
	TypeNotification   = "notification"
	TypeError          = "error"
)

// Envelope is the outer shape of every frame: a type discriminator and a
// payload whose concrete structure depends on the type. The payload is kept
// as raw JSON so it can be decoded lazily into the appropriate struct.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseClientMessage decodes raw WebSocket bytes into an Envelope and
// validates the type discriminator. The payload is left raw; the only client
// message the server currently understands (ping) carries an empty payload.
func ParseClientMessage(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: failed to parse message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	return env, nil
}

// ConnectedPayload acknowledges a successful authentication handshake. It is
// sent to the newly joined connection only.
type ConnectedPayload struct {
	UserID string `json:"userId"`
}

// PollTallyPayload carries a freshly recomputed poll tally.
type PollTallyPayload struct {
	PostID     string         `json:"postId"`
	Tally      map[string]int `json:"tally"`
	TotalVotes int            `json:"totalVotes"`
}

// ErrorPayload communicates a non-fatal error condition to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewServerMessage builds a JSON-encoded server frame with the given type and
// payload. A nil payload is encoded as an empty object so clients can always
// index into "payload".
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	out, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
