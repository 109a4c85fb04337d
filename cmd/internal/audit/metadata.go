package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the tag of an audit entry.
type Action string

const (
	ActionLinkCreated           Action = "LINK_CREATED"
	ActionLinkRegenerated       Action = "LINK_REGENERATED"
	ActionLinkRevoked           Action = "LINK_REVOKED"
	ActionLinkAccessed          Action = "LINK_ACCESSED"
	ActionLinkRequested         Action = "LINK_REQUESTED"
	ActionOrderApproved         Action = "ORDER_APPROVED"
	ActionOrderRejected         Action = "ORDER_REJECTED"
	ActionChangeRequestCreated  Action = "CHANGE_REQUEST_CREATED"
	ActionChangeRequestApproved Action = "CHANGE_REQUEST_APPROVED"
	ActionChangeRequestRejected Action = "CHANGE_REQUEST_REJECTED"
)

// Metadata is the per-action payload of an entry. Each action has exactly one
// concrete type; readers switch on the concrete type.
type Metadata interface {
	Action() Action
}

// LinkCreated is recorded when staff issue a new magic link.
type LinkCreated struct {
	LinkID    string    `json:"link_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LinkRegenerated is recorded before the LinkCreated of a regeneration.
type LinkRegenerated struct {
	RevokedCount int `json:"revoked_count"`
}

// LinkRevoked is recorded when staff explicitly revoke one link.
type LinkRevoked struct {
	LinkID string `json:"link_id"`
}

// LinkAccessed is recorded on each recorded client page load.
// Only a hash prefix is kept, never the raw token or the full hash.
type LinkAccessed struct {
	LinkID      string `json:"link_id"`
	HashPrefix  string `json:"hash_prefix"`
	AccessCount int64  `json:"access_count"`
}

// LinkRequested is recorded when a client with a dead link asks for a new one.
type LinkRequested struct {
	LinkID     string       `json:"link_id"`
	HashPrefix string       `json:"hash_prefix"`
	LinkStatus string       `json:"link_status"`
	Message    string       `json:"message,omitempty"`
	Status     TriageStatus `json:"status"`
}

// OrderApproved is recorded when a client approves an order.
type OrderApproved struct {
	LinkID     string    `json:"link_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

// OrderRejected is recorded when a client rejects an order.
type OrderRejected struct {
	LinkID string `json:"link_id"`
}

// ChangeRequestCreated keeps the proposed diff for later comparison.
type ChangeRequestCreated struct {
	RequestID string          `json:"request_id"`
	LinkID    string          `json:"link_id"`
	Reason    string          `json:"reason"`
	Changes   json.RawMessage `json:"changes"`
}

// ChangeRequestApproved is recorded when staff approve a change request.
type ChangeRequestApproved struct {
	RequestID string `json:"request_id"`
	Notes     string `json:"notes,omitempty"`
}

// ChangeRequestRejected is recorded when staff reject a change request.
type ChangeRequestRejected struct {
	RequestID string `json:"request_id"`
	Notes     string `json:"notes,omitempty"`
}

// Unknown carries entries whose action this build does not know.
type Unknown struct {
	Kind Action
	Raw  json.RawMessage
}

func (LinkCreated) Action() Action           { return ActionLinkCreated }
func (LinkRegenerated) Action() Action       { return ActionLinkRegenerated }
func (LinkRevoked) Action() Action           { return ActionLinkRevoked }
func (LinkAccessed) Action() Action          { return ActionLinkAccessed }
func (LinkRequested) Action() Action         { return ActionLinkRequested }
func (OrderApproved) Action() Action         { return ActionOrderApproved }
func (OrderRejected) Action() Action         { return ActionOrderRejected }
func (ChangeRequestCreated) Action() Action  { return ActionChangeRequestCreated }
func (ChangeRequestApproved) Action() Action { return ActionChangeRequestApproved }
func (ChangeRequestRejected) Action() Action { return ActionChangeRequestRejected }
func (u Unknown) Action() Action             { return u.Kind }

// EncodeMetadata serializes md as a JSON object.
func EncodeMetadata(md Metadata) ([]byte, error) {
	if md == nil {
		return nil, fmt.Errorf("audit: nil metadata")
	}
	if u, ok := md.(Unknown); ok {
		if len(u.Raw) == 0 {
			return []byte("{}"), nil
		}
		return u.Raw, nil
	}
	return json.Marshal(md)
}

// DecodeMetadata parses a stored payload for action. The triage status is read
// from the merged "status" key regardless of action.
func DecodeMetadata(action Action, raw []byte) (Metadata, TriageStatus, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var triage struct {
		Status TriageStatus `json:"status"`
	}
	if err := json.Unmarshal(raw, &triage); err != nil {
		return nil, TriageNone, fmt.Errorf("audit: decode %s: %w", action, err)
	}

	var md Metadata
	var err error
	switch action {
	case ActionLinkCreated:
		md, err = decodeAs[LinkCreated](raw)
	case ActionLinkRegenerated:
		md, err = decodeAs[LinkRegenerated](raw)
	case ActionLinkRevoked:
		md, err = decodeAs[LinkRevoked](raw)
	case ActionLinkAccessed:
		md, err = decodeAs[LinkAccessed](raw)
	case ActionLinkRequested:
		md, err = decodeAs[LinkRequested](raw)
	case ActionOrderApproved:
		md, err = decodeAs[OrderApproved](raw)
	case ActionOrderRejected:
		md, err = decodeAs[OrderRejected](raw)
	case ActionChangeRequestCreated:
		md, err = decodeAs[ChangeRequestCreated](raw)
	case ActionChangeRequestApproved:
		md, err = decodeAs[ChangeRequestApproved](raw)
	case ActionChangeRequestRejected:
		md, err = decodeAs[ChangeRequestRejected](raw)
	default:
		md = Unknown{Kind: action, Raw: append(json.RawMessage(nil), raw...)}
	}
	if err != nil {
		return nil, TriageNone, fmt.Errorf("audit: decode %s: %w", action, err)
	}
	return md, triage.Status, nil
}

func decodeAs[T Metadata](raw []byte) (Metadata, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
