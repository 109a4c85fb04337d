package auditfeed

import (
	"encoding/json"
	"time"

	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/ids"
)

const (
	// Subprotocol is the only websocket subprotocol the feed accepts.
	Subprotocol = "orderdesk.audit.v1"

	// Version is the envelope version carried in every frame.
	Version = 1

	TypeReady = "feed.ready"
	TypeEntry = "audit.entry"
	TypeError = "error"
)

// Envelope is one server-to-client frame.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// ReadyPayload acknowledges a subscription.
type ReadyPayload struct {
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id,omitempty"`
}

// ErrorPayload reports a protocol problem before the server closes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, now time.Time) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: now.UTC(), Payload: b}, nil
}

func entryEnvelope(e audit.Entry, now time.Time) (Envelope, error) {
	return newEnvelope(TypeEntry, e, now)
}
