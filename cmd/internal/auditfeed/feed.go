// Package auditfeed streams audit entries to connected staff over WebSocket.
//
// Feed implements audit.Sink. Publish never blocks: a subscriber whose queue is
// full misses the entry and stays connected; it can backfill via the audit API.
package auditfeed

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/telemetry"
)

var _ audit.Sink = (*Feed)(nil)

// Config tunes the websocket gateway. Zero values select defaults.
type Config struct {
	// AllowedOrigins lists browser origins ("https://staff.example.com") or "*".
	AllowedOrigins []string
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool

	SendQueue         int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (c Config) normalized() Config {
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.SendQueue < minSendQueue {
		c.SendQueue = minSendQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return c
}

// IdentityFunc extracts the authenticated staff id from a handshake request.
type IdentityFunc func(r *http.Request) (string, bool)

// Feed owns the live subscriber set.
type Feed struct {
	log      *slog.Logger
	metrics  *telemetry.Metrics
	cfg      Config
	identity IdentityFunc
	now      func() time.Time

	originPatterns []string

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Feed) {
		if log != nil {
			f.log = log
		}
	}
}

// WithMetrics reports the subscriber gauge.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// WithIdentity sets how the gateway learns the staff id of a session.
// Without it every handshake is refused.
func WithIdentity(fn IdentityFunc) Option {
	return func(f *Feed) { f.identity = fn }
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// New constructs a Feed.
func New(cfg Config, opts ...Option) *Feed {
	f := &Feed{
		log:         slog.Default(),
		cfg:         cfg.normalized(),
		now:         func() time.Time { return time.Now().UTC() },
		subscribers: make(map[string]*subscriber),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.originPatterns = originPatterns(f.cfg.AllowedOrigins)
	return f
}

// Publish fans e out to every interested subscriber without blocking.
func (f *Feed) Publish(e audit.Entry) {
	if f == nil {
		return
	}
	env, err := entryEnvelope(e, f.now())
	if err != nil {
		f.log.Error("auditfeed.encode.fail", "err", err, "entry_id", e.ID)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, s := range f.subscribers {
		if !s.wants(e.OrderID) {
			continue
		}
		select {
		case <-s.Done():
			continue
		default:
		}
		select {
		case s.send <- env:
		default:
			f.log.Warn("auditfeed.drop", "session_id", s.sessionID, "entry_id", e.ID)
		}
	}
}

// Subscribers returns the number of connected sessions.
func (f *Feed) Subscribers() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Close disconnects every subscriber.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	subs := f.subscribers
	f.subscribers = make(map[string]*subscriber)
	f.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	f.metrics.FeedSubscribers(0)
}

// admit queues first on s and then joins it, so first precedes any published
// entry and never waits on the queue.
func (f *Feed) admit(s *subscriber, first Envelope) {
	select {
	case s.send <- first:
	default:
		f.log.Warn("auditfeed.drop", "session_id", s.sessionID, "type", first.Type)
	}
	f.join(s)
}

func (f *Feed) join(s *subscriber) {
	f.mu.Lock()
	f.subscribers[s.sessionID] = s
	n := len(f.subscribers)
	f.mu.Unlock()

	f.metrics.FeedSubscribers(n)
	f.log.Info("auditfeed.join", "session_id", s.sessionID, "staff_id", s.staffID, "order_id", s.orderID)
}

// leave removes s before signalling it so publishers never hold a closing session.
func (f *Feed) leave(s *subscriber) {
	f.mu.Lock()
	_, ok := f.subscribers[s.sessionID]
	delete(f.subscribers, s.sessionID)
	n := len(f.subscribers)
	f.mu.Unlock()

	s.Close()
	if ok {
		f.metrics.FeedSubscribers(n)
		f.log.Info("auditfeed.leave", "session_id", s.sessionID)
	}
}

func trimmed(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}
