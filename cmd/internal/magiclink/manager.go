package magiclink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"orderdesk/cmd/internal/apperr"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/ids"
	"orderdesk/cmd/internal/telemetry"
	"orderdesk/cmd/security/token"
)

const (
	defaultBaseURL = "http://localhost:8080"

	// Attempts per issue when the token hash collides.
	maxIssueAttempts = 3

	maxRequestMessage = 1000
)

// Manager implements the link lifecycle over a Store.
type Manager struct {
	store   Store
	codec   *token.Codec
	audit   *audit.Logger
	log     *slog.Logger
	metrics *telemetry.Metrics
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager) error

// WithTTL sets the lifetime of new links.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 || d > MaxTTL {
			return fmt.Errorf("magiclink: ttl out of range: %s", d)
		}
		m.ttl = d
		return nil
	}
}

// WithBaseURL sets the public base used to build link URLs.
func WithBaseURL(raw string) Option {
	return func(m *Manager) error {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("magiclink: invalid base url %q", raw)
		}
		m.baseURL = raw
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now != nil {
			m.now = now
		}
		return nil
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) error {
		m.metrics = metrics
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) error {
		if log != nil {
			m.log = log
		}
		return nil
	}
}

// NewManager constructs a Manager. auditLog may be nil to disable auditing.
func NewManager(store Store, codec *token.Codec, auditLog *audit.Logger, opts ...Option) (*Manager, error) {
	if store == nil || codec == nil {
		return nil, ErrInvalidInput
	}
	m := &Manager{
		store:   store,
		codec:   codec,
		audit:   auditLog,
		log:     slog.Default(),
		ttl:     DefaultTTL,
		baseURL: defaultBaseURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// URL returns the addressable form of raw.
func (m *Manager) URL(raw string) string {
	return m.baseURL + "/magic/" + raw
}

// IssueLink returns the active link of orderID, or creates one.
// The raw token is only returned when a link was created.
func (m *Manager) IssueLink(ctx context.Context, orderID, actorID string) (Issued, error) {
	const op = "magiclink.IssueLink"

	if m == nil || m.store == nil {
		return Issued{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Issued{}, apperr.BadRequest(op, "order id is required")
	}

	var (
		link    Link
		raw     string
		created bool
	)
	err := m.withFreshToken(func(rec CreateRecord, tok string) error {
		rec.OrderID = orderID
		rec.CreatedBy = optional(actorID)
		l, c, err := m.store.IssueLink(ctx, rec)
		if err != nil {
			return err
		}
		link, raw, created = l, tok, c
		return nil
	})
	if err != nil {
		return Issued{}, m.storeErr(op, err)
	}

	if !created {
		m.metrics.LinkIssued("existing")
		return Issued{Link: link}, nil
	}
	m.metrics.LinkIssued("created")
	m.audit.Record(ctx, orderID, audit.Staff(actorID), audit.LinkCreated{LinkID: link.ID, ExpiresAt: link.ExpiresAt})
	return Issued{Link: link, Token: raw, URL: m.URL(raw), Created: true}, nil
}

// RegenerateLink revokes every non-revoked link of orderID and creates a new one.
func (m *Manager) RegenerateLink(ctx context.Context, orderID, actorID string) (Issued, error) {
	const op = "magiclink.RegenerateLink"

	if m == nil || m.store == nil {
		return Issued{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Issued{}, apperr.BadRequest(op, "order id is required")
	}

	var (
		link    Link
		raw     string
		revoked int
	)
	err := m.withFreshToken(func(rec CreateRecord, tok string) error {
		rec.OrderID = orderID
		rec.CreatedBy = optional(actorID)
		n, l, err := m.store.ReplaceLinks(ctx, rec)
		if err != nil {
			return err
		}
		link, raw, revoked = l, tok, n
		return nil
	})
	if err != nil {
		return Issued{}, m.storeErr(op, err)
	}

	m.metrics.LinkIssued("regenerated")
	actor := audit.Staff(actorID)
	m.audit.Record(ctx, orderID, actor, audit.LinkRegenerated{RevokedCount: revoked})
	m.audit.Record(ctx, orderID, actor, audit.LinkCreated{LinkID: link.ID, ExpiresAt: link.ExpiresAt})
	return Issued{Link: link, Token: raw, URL: m.URL(raw), Created: true}, nil
}

// Validate classifies raw. With recordAccess, a VALID link has its access count
// incremented and a LINK_ACCESSED entry is recorded.
func (m *Manager) Validate(ctx context.Context, raw string, recordAccess bool) (Validation, error) {
	const op = "magiclink.Validate"

	if m == nil || m.store == nil {
		return Validation{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Validation{}, err
	}
	if !token.WellFormed(raw) {
		m.metrics.LinkValidated(string(StatusNotFound))
		return Validation{Status: StatusNotFound}, nil
	}

	hash := m.codec.Hash(raw)
	link, err := m.store.FindLinkByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.metrics.LinkValidated(string(StatusNotFound))
			return Validation{Status: StatusNotFound}, nil
		}
		return Validation{}, m.storeErr(op, err)
	}

	now := m.now()
	status := link.StatusAt(now)
	if status == StatusValid && recordAccess {
		updated, err := m.store.RecordAccess(ctx, link.ID, now)
		switch {
		case err == nil:
			link = updated
			m.audit.Record(ctx, link.OrderID, audit.Client(), audit.LinkAccessed{
				LinkID:      link.ID,
				HashPrefix:  token.Prefix(hash),
				AccessCount: link.AccessCount,
			})
		case errors.Is(err, ErrNotActive):
			// Revoked between lookup and increment.
			reloaded, gerr := m.store.GetLink(ctx, link.ID)
			if gerr != nil {
				return Validation{}, m.storeErr(op, gerr)
			}
			link = reloaded
			status = link.StatusAt(now)
			if status == StatusValid {
				status = StatusRevoked
			}
		default:
			return Validation{}, m.storeErr(op, err)
		}
	}

	m.metrics.LinkValidated(string(status))
	return Validation{Status: status, Link: link}, nil
}

// Authorize validates raw without recording access and fails with a Forbidden
// LinkError unless the link is VALID.
func (m *Manager) Authorize(ctx context.Context, raw string) (Link, error) {
	const op = "magiclink.Authorize"

	v, err := m.Validate(ctx, raw, false)
	if err != nil {
		return Link{}, err
	}
	if !v.Valid() {
		return Link{}, &LinkError{Op: op, Status: v.Status}
	}
	return v.Link, nil
}

// Revoke marks linkID revoked. Revoking an already revoked link is a no-op.
func (m *Manager) Revoke(ctx context.Context, linkID, actorID string) (Link, error) {
	const op = "magiclink.Revoke"

	if m == nil || m.store == nil {
		return Link{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	linkID = strings.TrimSpace(linkID)
	if !ids.Valid(linkID) {
		return Link{}, apperr.NotFound(op, "magic link")
	}

	link, changed, err := m.store.RevokeLink(ctx, linkID, m.now())
	if err != nil {
		return Link{}, m.storeErr(op, err)
	}
	if changed {
		m.audit.Record(ctx, link.OrderID, audit.Staff(actorID), audit.LinkRevoked{LinkID: link.ID})
	}
	return link, nil
}

// RequestNewLink lets a client holding an expired or revoked token ask staff
// for a new link. The request is recorded as an open LINK_REQUESTED entry.
func (m *Manager) RequestNewLink(ctx context.Context, raw, message string) (Link, error) {
	const op = "magiclink.RequestNewLink"

	message = strings.TrimSpace(message)
	if len(message) > maxRequestMessage {
		return Link{}, apperr.BadRequest(op, "message too long")
	}

	v, err := m.Validate(ctx, raw, false)
	if err != nil {
		return Link{}, err
	}
	switch v.Status {
	case StatusNotFound:
		return Link{}, &LinkError{Op: op, Status: v.Status}
	case StatusValid:
		return Link{}, apperr.BadRequest(op, "link is still valid")
	}

	m.audit.Record(ctx, v.Link.OrderID, audit.Client(), audit.LinkRequested{
		LinkID:     v.Link.ID,
		HashPrefix: token.Prefix(v.Link.TokenHash),
		LinkStatus: string(v.Status),
		Message:    message,
		Status:     audit.TriageOpen,
	})
	return v.Link, nil
}

// ListLinks returns the link history of orderID, newest first.
func (m *Manager) ListLinks(ctx context.Context, orderID string) ([]Link, error) {
	const op = "magiclink.ListLinks"

	if m == nil || m.store == nil {
		return nil, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperr.BadRequest(op, "order id is required")
	}
	links, err := m.store.ListLinks(ctx, orderID)
	if err != nil {
		return nil, m.storeErr(op, err)
	}
	return links, nil
}

func (m *Manager) withFreshToken(fn func(rec CreateRecord, raw string) error) error {
	var err error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		now := m.now()
		raw, hash, ierr := m.codec.Issue()
		if ierr != nil {
			return ierr
		}
		id, ierr := ids.NewULID(now)
		if ierr != nil {
			return ierr
		}
		err = fn(CreateRecord{
			ID:        id,
			TokenHash: hash,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		}, raw)
		if !errors.Is(err, ErrHashConflict) {
			return err
		}
		m.log.Warn("magiclink.issue.hash_conflict", "attempt", attempt+1)
	}
	return err
}

func (m *Manager) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return apperr.NotFound(op, "order")
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, "magic link")
	case errors.Is(err, ErrInvalidInput):
		return apperr.BadRequest(op, err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	m.log.Error("magiclink.store.fail", "op", op, "err", err)
	return apperr.Internal(op, err)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
