package changerequest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"orderdesk/cmd/internal/apperr"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/ids"
	"orderdesk/cmd/internal/magiclink"
	"orderdesk/cmd/internal/telemetry"
)

// Authorizer resolves a raw token to the link it authorizes.
type Authorizer interface {
	Authorize(ctx context.Context, raw string) (magiclink.Link, error)
}

// Workflow creates and reviews change requests.
type Workflow struct {
	store   Store
	links   Authorizer
	audit   *audit.Logger
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures the Workflow.
type Option func(*Workflow)

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(w *Workflow) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWorkflow constructs a Workflow. auditLog may be nil.
func NewWorkflow(store Store, links Authorizer, auditLog *audit.Logger, opts ...Option) (*Workflow, error) {
	if store == nil || links == nil {
		return nil, ErrInvalidInput
	}
	w := &Workflow{
		store: store,
		links: links,
		audit: auditLog,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Create records a PENDING change request against the order addressed by raw.
func (w *Workflow) Create(ctx context.Context, raw string, changes json.RawMessage, reason string) (ChangeRequest, error) {
	const op = "changerequest.Create"

	if w == nil || w.store == nil {
		return ChangeRequest{}, apperr.Internal(op, ErrInvalidInput)
	}
	link, err := w.links.Authorize(ctx, raw)
	if err != nil {
		return ChangeRequest{}, err
	}

	reason, err = normalizeReason(reason)
	if err != nil {
		return ChangeRequest{}, apperr.BadRequest(op, err.Error())
	}
	normalized, err := normalizeChanges(changes)
	if err != nil {
		return ChangeRequest{}, apperr.BadRequest(op, err.Error())
	}

	now := w.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return ChangeRequest{}, apperr.Internal(op, err)
	}

	cr, err := w.store.CreateChangeRequest(ctx, ChangeRequest{
		ID:          id,
		OrderID:     link.OrderID,
		Changes:     normalized,
		Reason:      reason,
		Status:      StatusPending,
		RequestedAt: now,
	})
	if err != nil {
		return ChangeRequest{}, w.storeErr(op, err)
	}

	w.audit.Record(ctx, cr.OrderID, audit.Client(), audit.ChangeRequestCreated{
		RequestID: cr.ID,
		LinkID:    link.ID,
		Reason:    cr.Reason,
		Changes:   cr.Changes,
	})
	return cr, nil
}

// Review applies decision to a PENDING request on behalf of reviewerID.
// A request can be reviewed exactly once.
func (w *Workflow) Review(ctx context.Context, id string, decision Decision, reviewerID, notes string) (ChangeRequest, error) {
	const op = "changerequest.Review"

	if w == nil || w.store == nil {
		return ChangeRequest{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return ChangeRequest{}, err
	}

	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		return ChangeRequest{}, apperr.NotFound(op, "change request")
	}
	decision, err := normalizeDecision(decision)
	if err != nil {
		return ChangeRequest{}, apperr.BadRequest(op, err.Error())
	}
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return ChangeRequest{}, apperr.BadRequest(op, errReviewerMissing.Error())
	}
	notes, err = normalizeNotes(notes)
	if err != nil {
		return ChangeRequest{}, apperr.BadRequest(op, err.Error())
	}
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	label := strings.ToLower(string(decision))
	cr, err := w.store.ReviewChangeRequest(ctx, ReviewRecord{
		ID:         id,
		To:         decision.Status(),
		ReviewerID: reviewerID,
		Notes:      notesPtr,
		At:         w.now(),
	})
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			w.metrics.ChangeRequestReviewed(label, "refused")
			return ChangeRequest{}, apperr.BadRequest(op, "change request already reviewed")
		}
		w.metrics.ChangeRequestReviewed(label, "error")
		return ChangeRequest{}, w.storeErr(op, err)
	}
	w.metrics.ChangeRequestReviewed(label, "applied")

	actor := audit.Staff(reviewerID)
	if decision == DecisionApprove {
		w.audit.Record(ctx, cr.OrderID, actor, audit.ChangeRequestApproved{RequestID: cr.ID, Notes: notes})
	} else {
		w.audit.Record(ctx, cr.OrderID, actor, audit.ChangeRequestRejected{RequestID: cr.ID, Notes: notes})
	}
	return cr, nil
}

// Get returns one request with its display fields.
func (w *Workflow) Get(ctx context.Context, id string) (Summary, error) {
	const op = "changerequest.Get"

	if w == nil || w.store == nil {
		return Summary{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		return Summary{}, apperr.NotFound(op, "change request")
	}
	s, err := w.store.GetChangeRequest(ctx, id)
	if err != nil {
		return Summary{}, w.storeErr(op, err)
	}
	return s, nil
}

// List returns a page of requests, newest first. Reads are not audited.
func (w *Workflow) List(ctx context.Context, f ListFilter) (Page, error) {
	const op = "changerequest.List"

	if w == nil || w.store == nil {
		return Page{}, apperr.Internal(op, ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	f.Status = Status(strings.ToUpper(strings.TrimSpace(string(f.Status))))
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, apperr.BadRequest(op, "invalid status filter")
	}
	f.OrderID = strings.TrimSpace(f.OrderID)
	f.PageToken = strings.TrimSpace(f.PageToken)
	if f.PageToken != "" && !ids.Valid(f.PageToken) {
		return Page{}, apperr.BadRequest(op, "invalid page token")
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}

	p, err := w.store.ListChangeRequests(ctx, f)
	if err != nil {
		return Page{}, w.storeErr(op, err)
	}
	return p, nil
}

func (w *Workflow) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, "change request")
	case errors.Is(err, ErrOrderNotFound):
		return apperr.NotFound(op, "order")
	case errors.Is(err, ErrInvalidInput):
		return apperr.BadRequest(op, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	w.log.Error("changerequest.store.fail", "op", op, "err", err)
	return apperr.Internal(op, err)
}
