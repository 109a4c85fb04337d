// Package magiclink issues, validates and revokes the session-less access links
// clients use to act on a single order.
//
// Only the token hash is persisted. The raw token is revealed exactly once,
// when a link is created.
package magiclink

import (
	"errors"
	"time"

	"orderdesk/cmd/internal/apperr"
)

// Status is the computed state of a link at a point in time.
type Status string

const (
	StatusNotFound Status = "NOT_FOUND"
	StatusRevoked  Status = "REVOKED"
	StatusExpired  Status = "EXPIRED"
	StatusValid    Status = "VALID"
)

// DefaultTTL is the lifetime of a new link.
const DefaultTTL = 7 * 24 * time.Hour

// MaxTTL bounds configured lifetimes.
const MaxTTL = 30 * 24 * time.Hour

// Link is a persisted magic link. It never carries the raw token.
type Link struct {
	ID             string
	OrderID        string
	TokenHash      string
	CreatedBy      *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	LastAccessedAt *time.Time
	AccessCount    int64
}

// StatusAt classifies l at now. Revocation wins over expiry.
func (l Link) StatusAt(now time.Time) Status {
	if l.ID == "" {
		return StatusNotFound
	}
	if l.RevokedAt != nil {
		return StatusRevoked
	}
	if !now.Before(l.ExpiresAt) {
		return StatusExpired
	}
	return StatusValid
}

// Validation is the outcome of validating a raw token.
type Validation struct {
	Status Status
	Link   Link
}

// Valid reports whether the token may be used.
func (v Validation) Valid() bool { return v.Status == StatusValid }

// Issued is returned by IssueLink and RegenerateLink.
// Token and URL are empty when an already active link was returned.
type Issued struct {
	Link    Link
	Token   string
	URL     string
	Created bool
}

// LinkError reports a token that cannot authorize an action.
// It matches apperr.ErrForbidden.
type LinkError struct {
	Op     string
	Status Status
}

func (e *LinkError) Error() string {
	switch e.Status {
	case StatusExpired:
		return e.Op + ": link expired"
	case StatusRevoked:
		return e.Op + ": link revoked"
	default:
		return e.Op + ": link invalid"
	}
}

func (e *LinkError) Unwrap() error { return apperr.ErrForbidden }

// StatusOf extracts the link status carried by err, if any.
func StatusOf(err error) (Status, bool) {
	var le *LinkError
	if errors.As(err, &le) {
		return le.Status, true
	}
	return "", false
}
