package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"orderdesk/cmd/internal/apperr"
	"orderdesk/cmd/internal/telemetry"
)

const defaultWriteTimeout = 3 * time.Second

// Logger records and reads audit entries.
type Logger struct {
	store   Store
	log     *slog.Logger
	metrics *telemetry.Metrics
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

// Option configures the Logger.
type Option func(*Logger)

// WithLogger sets the local logger used for swallowed failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithSink adds a subscriber notified after each successful append.
func WithSink(s Sink) Option {
	return func(l *Logger) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithWriteTimeout bounds each append.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger constructs a Logger over store.
func NewLogger(store Store, opts ...Option) (*Logger, error) {
	if store == nil {
		return nil, errors.New("audit: nil store")
	}
	l := &Logger{
		store:   store,
		log:     slog.Default(),
		timeout: defaultWriteTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(l)
	}
	return l, nil
}

// Record appends one entry for orderID. It never returns an error: failures are
// logged locally and counted, and the caller's operation proceeds.
//
// The append runs on a context detached from the caller's cancellation so a
// client disconnect after a committed state change still leaves its trail.
func (l *Logger) Record(ctx context.Context, orderID string, actor Actor, md Metadata) {
	if l == nil || l.store == nil {
		return
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || !actor.Type.Valid() || md == nil {
		l.log.Warn("audit.record.invalid", "order_id", orderID, "actor_type", string(actor.Type))
		return
	}
	action := md.Action()

	meta, err := EncodeMetadata(md)
	if err != nil {
		l.log.Error("audit.encode.fail", "err", err, "action", string(action))
		l.metrics.AuditFailed()
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	at := l.now()
	id, err := l.store.Append(wctx, AppendRecord{
		OrderID:   orderID,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		Action:    action,
		Meta:      meta,
		At:        at,
	})
	if err != nil {
		l.log.Error("audit.append.fail", "err", err, "action", string(action), "order_id", orderID)
		l.metrics.AuditFailed()
		return
	}
	l.metrics.AuditAppended(string(action))

	if len(l.sinks) == 0 {
		return
	}
	_, status, _ := DecodeMetadata(action, meta)
	entry := Entry{
		ID:        id,
		OrderID:   orderID,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		Action:    action,
		Metadata:  md,
		Status:    status,
		Timestamp: at,
	}
	for _, s := range l.sinks {
		s.Publish(entry)
	}
}

// Find returns a page of entries matching f, newest first.
func (l *Logger) Find(ctx context.Context, f Filter) (Page, error) {
	const op = "audit.Find"

	if l == nil || l.store == nil {
		return Page{}, apperr.Internal(op, errors.New("nil logger"))
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	f.OrderID = strings.TrimSpace(f.OrderID)
	f.PageToken = strings.TrimSpace(f.PageToken)
	f.Action = Action(strings.ToUpper(strings.TrimSpace(string(f.Action))))
	switch {
	case f.PageSize <= 0:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}

	rp, err := l.store.Query(ctx, f)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return Page{}, apperr.BadRequest(op, err.Error())
		}
		return Page{}, apperr.Wrap(op, err)
	}

	out := Page{Entries: make([]Entry, 0, len(rp.Records)), NextPageToken: rp.NextPageToken}
	for _, rec := range rp.Records {
		e, err := decodeRecord(rec)
		if err != nil {
			return Page{}, apperr.Internal(op, err)
		}
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

// PatchMetadataStatus merges status into the metadata of entry id, which must
// be a LINK_REQUESTED entry. Action, actor and timestamp are never touched.
func (l *Logger) PatchMetadataStatus(ctx context.Context, id int64, status TriageStatus) (Entry, error) {
	const op = "audit.PatchMetadataStatus"

	if l == nil || l.store == nil {
		return Entry{}, apperr.Internal(op, errors.New("nil logger"))
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if id <= 0 {
		return Entry{}, apperr.BadRequest(op, "invalid entry id")
	}
	status = TriageStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return Entry{}, apperr.BadRequest(op, "invalid status")
	}

	rec, err := l.store.PatchStatus(ctx, id, status)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return Entry{}, apperr.NotFound(op, "audit entry")
		case errors.Is(err, ErrNotTriageable):
			return Entry{}, apperr.BadRequest(op, "only LINK_REQUESTED entries take a status")
		}
		return Entry{}, apperr.Wrap(op, err)
	}
	e, err := decodeRecord(rec)
	if err != nil {
		return Entry{}, apperr.Internal(op, err)
	}
	return e, nil
}

func decodeRecord(rec Record) (Entry, error) {
	md, status, err := DecodeMetadata(rec.Action, rec.Meta)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        rec.ID,
		OrderID:   rec.OrderID,
		ActorType: rec.ActorType,
		ActorID:   rec.ActorID,
		Action:    rec.Action,
		Metadata:  md,
		Status:    status,
		Timestamp: rec.At,
	}, nil
}
