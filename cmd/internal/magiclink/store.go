package magiclink

import (
	"context"
	"time"
)

// CreateRecord is a normalized link insert payload.
type CreateRecord struct {
	ID        string
	OrderID   string
	TokenHash string
	CreatedBy *string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the persistence boundary for magic links.
//
// IssueLink and ReplaceLinks serialize per order. IssueLink returns the
// currently active link with created=false instead of inserting when one
// exists at in.CreatedAt. ReplaceLinks revokes every non-revoked link of the
// order and inserts in in one transaction.
type Store interface {
	IssueLink(ctx context.Context, in CreateRecord) (link Link, created bool, err error)
	ReplaceLinks(ctx context.Context, in CreateRecord) (revoked int, link Link, err error)
	FindLinkByHash(ctx context.Context, tokenHash string) (Link, error)
	GetLink(ctx context.Context, id string) (Link, error)
	// RevokeLink sets revoked_at unless already set. changed is false for a no-op.
	RevokeLink(ctx context.Context, id string, now time.Time) (link Link, changed bool, err error)
	// RecordAccess atomically increments access_count when the link is valid at now.
	// It returns ErrNotActive when the link is revoked or expired.
	RecordAccess(ctx context.Context, id string, now time.Time) (Link, error)
	ListLinks(ctx context.Context, orderID string) ([]Link, error)
}
