// Package audit implements the append-only audit trail for order workflow actions.
//
// Appends are fail-open: a storage failure is logged and counted but never
// returned to the caller, so the trail cannot block the primary transaction.
package audit

import (
	"encoding/json"
	"errors"
	"time"
)

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorClient ActorType = "CLIENT"
	ActorStaff  ActorType = "STAFF"
	ActorSystem ActorType = "SYSTEM"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	switch t {
	case ActorClient, ActorStaff, ActorSystem:
		return true
	default:
		return false
	}
}

// Actor is the acting party of an entry. ID is nil for anonymous clients and the system.
type Actor struct {
	Type ActorType
	ID   *string
}

// Client returns the token-holding client actor.
func Client() Actor { return Actor{Type: ActorClient} }

// System returns the system actor.
func System() Actor { return Actor{Type: ActorSystem} }

// Staff returns a staff actor. An empty id yields a staff actor without id.
func Staff(id string) Actor {
	if id == "" {
		return Actor{Type: ActorStaff}
	}
	return Actor{Type: ActorStaff, ID: &id}
}

// TriageStatus is the review state merged into an entry's metadata after the fact.
type TriageStatus string

const (
	TriageNone         TriageStatus = ""
	TriageOpen         TriageStatus = "open"
	TriageAcknowledged TriageStatus = "acknowledged"
	TriageResolved     TriageStatus = "resolved"
	TriageDismissed    TriageStatus = "dismissed"
)

// Valid reports whether s may be written by PatchMetadataStatus.
func (s TriageStatus) Valid() bool {
	switch s {
	case TriageOpen, TriageAcknowledged, TriageResolved, TriageDismissed:
		return true
	default:
		return false
	}
}

// Triageable reports whether entries with action a take a triage status.
// Only client requests for a new link are worked by staff.
func (a Action) Triageable() bool {
	return a == ActionLinkRequested
}

// Entry is one decoded audit row.
type Entry struct {
	ID        int64
	OrderID   string
	ActorType ActorType
	ActorID   *string
	Action    Action
	Metadata  Metadata
	Status    TriageStatus
	Timestamp time.Time
}

// Filter narrows Find. Zero values mean "any".
type Filter struct {
	Action    Action
	OrderID   string
	PageSize  int
	PageToken string
}

// Page is one page of entries, newest first.
type Page struct {
	Entries       []Entry
	NextPageToken string
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var (
	// ErrNotFound is returned by stores when an entry does not exist.
	ErrNotFound = errors.New("audit entry not found")
	// ErrInvalidInput is returned by stores for malformed filters or records.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotTriageable is returned by PatchStatus for entries whose action
	// carries no triage status.
	ErrNotTriageable = errors.New("audit entry does not take a triage status")
)

type entryJSON struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	ActorType ActorType       `json:"actor_type"`
	ActorID   *string         `json:"actor_id"`
	Action    Action          `json:"action"`
	Metadata  json.RawMessage `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON renders the entry with its metadata as a nested object.
// The triage status, when set, is part of the metadata.
func (e Entry) MarshalJSON() ([]byte, error) {
	meta := []byte("{}")
	if e.Metadata != nil {
		b, err := EncodeMetadata(e.Metadata)
		if err != nil {
			return nil, err
		}
		meta = b
	}
	if e.Status != TriageNone {
		var m map[string]any
		if err := json.Unmarshal(meta, &m); err != nil {
			return nil, err
		}
		m["status"] = e.Status
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		meta = b
	}
	return json.Marshal(entryJSON{
		ID:        e.ID,
		OrderID:   e.OrderID,
		ActorType: e.ActorType,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Metadata:  meta,
		Timestamp: e.Timestamp.UTC(),
	})
}
