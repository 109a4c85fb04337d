// Package api is the HTTP boundary of the order approval workflow.
//
// Client routes are addressed by the raw magic link token in the path and carry
// no session. Staff routes require an HS256 bearer token whose subject is the
// staff member id.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"orderdesk/cmd/internal/approval"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/changerequest"
	"orderdesk/cmd/internal/magiclink"

	"github.com/go-chi/chi/v5"
)

// DefaultMaxBodyBytes bounds request bodies unless configured otherwise.
const DefaultMaxBodyBytes = 128 << 10

// LinkService is the link lifecycle surface used by the HTTP layer.
type LinkService interface {
	IssueLink(ctx context.Context, orderID, actorID string) (magiclink.Issued, error)
	RegenerateLink(ctx context.Context, orderID, actorID string) (magiclink.Issued, error)
	ListLinks(ctx context.Context, orderID string) ([]magiclink.Link, error)
	Revoke(ctx context.Context, linkID, actorID string) (magiclink.Link, error)
	RequestNewLink(ctx context.Context, raw, message string) (magiclink.Link, error)
}

// OrderService is the approval state machine surface.
type OrderService interface {
	GetOrder(ctx context.Context, raw string) (approval.Order, magiclink.Link, error)
	Approve(ctx context.Context, raw string) (approval.Order, error)
	Reject(ctx context.Context, raw string) (approval.Order, error)
}

// ChangeRequestService is the change request workflow surface.
type ChangeRequestService interface {
	Create(ctx context.Context, raw string, changes json.RawMessage, reason string) (changerequest.ChangeRequest, error)
	Review(ctx context.Context, id string, decision changerequest.Decision, reviewerID, notes string) (changerequest.ChangeRequest, error)
	Get(ctx context.Context, id string) (changerequest.Summary, error)
	List(ctx context.Context, f changerequest.ListFilter) (changerequest.Page, error)
}

// AuditService is the audit read and triage surface.
type AuditService interface {
	Find(ctx context.Context, f audit.Filter) (audit.Page, error)
	PatchMetadataStatus(ctx context.Context, id int64, status audit.TriageStatus) (audit.Entry, error)
}

// Services groups the workflow components the handler routes to.
type Services struct {
	Links          LinkService
	Orders         OrderService
	ChangeRequests ChangeRequestService
	Audit          AuditService
	// Feed serves the staff live audit feed. Optional.
	Feed http.Handler
}

// Config controls HTTP behavior.
type Config struct {
	MaxBodyBytes int64

	// MagicRateLimit caps /magic requests per client address within MagicRateWindow.
	// Zero disables the limit.
	MagicRateLimit  int
	MagicRateWindow time.Duration
}

// Handler routes HTTP requests to the workflow services.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	svc   Services
	staff *StaffAuth
	now   func() time.Time

	limiter *clientLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the clock used to classify links in responses.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. Every service and staff auth are required.
func NewHandler(log *slog.Logger, cfg Config, svc Services, staff *StaffAuth, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc.Links == nil || svc.Orders == nil || svc.ChangeRequests == nil || svc.Audit == nil {
		return nil, errors.New("api: missing service")
	}
	if staff == nil {
		return nil, errors.New("api: nil staff auth")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		log:   log,
		cfg:   cfg,
		svc:   svc,
		staff: staff,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if cfg.MagicRateLimit > 0 {
		if cfg.MagicRateWindow <= 0 {
			cfg.MagicRateWindow = time.Minute
		}
		h.cfg = cfg
		h.limiter = newClientLimiter(cfg.MagicRateLimit, cfg.MagicRateWindow, func() time.Time { return h.now() })
	}
	return h, nil
}

// Routes returns the client and staff routes.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(noStore)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/magic/{token}", func(r chi.Router) {
		r.Use(h.throttleMagic)
		r.Get("/", h.handleMagicView)
		r.Post("/approve", h.handleApprove)
		r.Post("/reject", h.handleReject)
		r.Post("/change-requests", h.handleChangeRequestCreate)
		r.Post("/link-requests", h.handleLinkRequest)
	})

	r.Route("/staff", func(r chi.Router) {
		r.Use(h.staff.RequireStaff)

		r.Post("/orders/{orderID}/links", h.handleLinkIssue)
		r.Post("/orders/{orderID}/links/regenerate", h.handleLinkRegenerate)
		r.Get("/orders/{orderID}/links", h.handleLinkList)
		r.Post("/links/{linkID}/revoke", h.handleLinkRevoke)

		r.Get("/change-requests", h.handleChangeRequestList)
		r.Get("/change-requests/{id}", h.handleChangeRequestGet)
		r.Post("/change-requests/{id}/review", h.handleChangeRequestReview)

		r.Get("/audit", h.handleAuditList)
		r.Post("/audit/{entryID}/status", h.handleAuditStatus)
		if h.svc.Feed != nil {
			r.Get("/audit/feed", h.svc.Feed.ServeHTTP)
		}
	})
	return r
}

// noStore keeps tokens in URLs and order data out of shared caches.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) staffID(r *http.Request) string {
	id, _ := StaffID(r.Context())
	return id
}
