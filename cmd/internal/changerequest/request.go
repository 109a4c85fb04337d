// Package changerequest models client-proposed edits to an order and their
// one-time staff review.
//
// Submitting a change request is allowed regardless of the order's lock: the
// lock gates direct edits, not this channel.
package changerequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Status represents change-request lifecycle state.
type Status string

const (
	// StatusPending indicates the request awaits staff review.
	StatusPending Status = "PENDING"
	// StatusApproved indicates staff accepted the request.
	StatusApproved Status = "APPROVED"
	// StatusRejected indicates staff declined the request.
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Decision represents a review action taken by staff.
type Decision string

const (
	// DecisionApprove accepts a pending request.
	DecisionApprove Decision = "APPROVE"
	// DecisionReject declines a pending request.
	DecisionReject Decision = "REJECT"
)

// Status returns the status a decision moves a request to.
func (d Decision) Status() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

const (
	// MaxReasonLen bounds the client's free-text reason.
	MaxReasonLen = 2000
	// MaxNotesLen bounds the reviewer's notes.
	MaxNotesLen = 2000
	// MaxChangesBytes bounds the proposed diff document.
	MaxChangesBytes = 64 << 10

	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	// ErrInvalidInput indicates a malformed store call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the change request does not exist.
	ErrNotFound = errors.New("change request not found")
	// ErrOrderNotFound indicates the target order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotPending indicates reviewed requests are immutable.
	ErrNotPending = errors.New("change request is not pending")

	errReasonRequired  = errors.New("reason is required")
	errReasonTooLong   = errors.New("reason is too long")
	errChangesInvalid  = errors.New("changes must be a JSON object")
	errChangesTooLarge = errors.New("changes document is too large")
	errNotesTooLong    = errors.New("notes are too long")
	errTextEncoding    = errors.New("text must be valid UTF-8")
	errReviewerMissing = errors.New("reviewer id is required")
	errDecisionInvalid = errors.New("decision must be APPROVE or REJECT")
)

// ChangeRequest is a client-proposed edit to one order.
type ChangeRequest struct {
	ID      string
	OrderID string
	// Changes is an opaque JSON object kept verbatim for later diffing.
	Changes json.RawMessage
	Reason  string
	Status  Status

	RequestedAt time.Time

	ReviewedBy  *string
	ReviewedAt  *time.Time
	ReviewNotes *string
}

// Summary joins a request with the display fields staff lists need.
type Summary struct {
	ChangeRequest
	CustomerName string
	ReviewerName *string
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status    Status
	OrderID   string
	PageSize  int
	PageToken string
}

// Page is one page of summaries, newest first.
type Page struct {
	Requests      []Summary
	NextPageToken string
}

// ReviewRecord is a normalized review update.
type ReviewRecord struct {
	ID         string
	To         Status
	ReviewerID string
	Notes      *string
	At         time.Time
}

// normalizeChanges returns the compacted JSON object, or {} for empty input.
func normalizeChanges(raw []byte) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if len(raw) > MaxChangesBytes {
		return nil, errChangesTooLarge
	}
	if raw[0] != '{' || !json.Valid(raw) {
		return nil, errChangesInvalid
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, errChangesInvalid
	}
	return json.RawMessage(buf.Bytes()), nil
}

func normalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", errReasonRequired
	}
	if !utf8.ValidString(reason) {
		return "", errTextEncoding
	}
	if utf8.RuneCountInString(reason) > MaxReasonLen {
		return "", errReasonTooLong
	}
	return reason, nil
}

// normalizeNotes trims reviewer notes; limits count characters, not bytes.
func normalizeNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if !utf8.ValidString(notes) {
		return "", errTextEncoding
	}
	if utf8.RuneCountInString(notes) > MaxNotesLen {
		return "", errNotesTooLong
	}
	return notes, nil
}

func normalizeDecision(d Decision) (Decision, error) {
	d = Decision(strings.ToUpper(strings.TrimSpace(string(d))))
	if d != DecisionApprove && d != DecisionReject {
		return "", errDecisionInvalid
	}
	return d, nil
}
