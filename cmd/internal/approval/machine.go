package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"orderdesk/cmd/internal/apperr"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/magiclink"
	"orderdesk/cmd/internal/telemetry"
)

// Links is the part of the link lifecycle the state machine needs.
type Links interface {
	Validate(ctx context.Context, raw string, recordAccess bool) (magiclink.Validation, error)
	Authorize(ctx context.Context, raw string) (magiclink.Link, error)
}

// Machine applies approval transitions.
type Machine struct {
	store   Store
	links   Links
	audit   *audit.Logger
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures the Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMachine constructs a Machine. auditLog may be nil.
func NewMachine(store Store, links Links, auditLog *audit.Logger, opts ...Option) (*Machine, error) {
	if store == nil || links == nil {
		return nil, ErrInvalidInput
	}
	m := &Machine{
		store: store,
		links: links,
		audit: auditLog,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// GetOrder returns the order addressed by raw and records the page load.
func (m *Machine) GetOrder(ctx context.Context, raw string) (Order, magiclink.Link, error) {
	const op = "approval.GetOrder"

	v, err := m.links.Validate(ctx, raw, true)
	if err != nil {
		return Order{}, magiclink.Link{}, err
	}
	if !v.Valid() {
		return Order{}, magiclink.Link{}, &magiclink.LinkError{Op: op, Status: v.Status}
	}
	o, err := m.store.GetOrder(ctx, v.Link.OrderID)
	if err != nil {
		return Order{}, magiclink.Link{}, m.storeErr(op, err)
	}
	return o, v.Link, nil
}

// Approve moves the order addressed by raw from PENDING to APPROVED and locks it.
func (m *Machine) Approve(ctx context.Context, raw string) (Order, error) {
	const op = "approval.Approve"

	link, err := m.links.Authorize(ctx, raw)
	if err != nil {
		return Order{}, err
	}

	at := m.now()
	o, applied, err := m.store.UpdateOrderApproval(ctx, link.OrderID, StatusPending, StatusApproved, at)
	if err != nil {
		m.metrics.OrderTransition("approve", "error")
		return Order{}, m.storeErr(op, err)
	}
	if !applied {
		m.metrics.OrderTransition("approve", "refused")
		return Order{}, refused(op, o.ApprovalStatus)
	}
	m.metrics.OrderTransition("approve", "applied")

	approvedAt := at
	if o.ApprovedAt != nil {
		approvedAt = *o.ApprovedAt
	}
	m.audit.Record(ctx, o.ID, audit.Client(), audit.OrderApproved{LinkID: link.ID, ApprovedAt: approvedAt})
	return o, nil
}

// Reject moves the order addressed by raw from PENDING to REJECTED.
func (m *Machine) Reject(ctx context.Context, raw string) (Order, error) {
	const op = "approval.Reject"

	link, err := m.links.Authorize(ctx, raw)
	if err != nil {
		return Order{}, err
	}

	o, applied, err := m.store.UpdateOrderApproval(ctx, link.OrderID, StatusPending, StatusRejected, m.now())
	if err != nil {
		m.metrics.OrderTransition("reject", "error")
		return Order{}, m.storeErr(op, err)
	}
	if !applied {
		m.metrics.OrderTransition("reject", "refused")
		return Order{}, refused(op, o.ApprovalStatus)
	}
	m.metrics.OrderTransition("reject", "applied")

	m.audit.Record(ctx, o.ID, audit.Client(), audit.OrderRejected{LinkID: link.ID})
	return o, nil
}

func refused(op string, current Status) error {
	switch current {
	case StatusApproved:
		return apperr.BadRequest(op, "order already approved")
	case StatusRejected:
		return apperr.BadRequest(op, "order already rejected")
	default:
		return apperr.BadRequest(op, "order is not pending")
	}
}

func (m *Machine) storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound(op, "order")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	m.log.Error("approval.store.fail", "op", op, "err", err)
	return apperr.Internal(op, err)
}
