package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// clientLimiter is a per-client sliding-window limiter for the token routes.
// Clients idle for a full window are swept so the map stays bounded by active callers.
type clientLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	now       func() time.Time
	clients   map[string][]time.Time
	lastSweep time.Time
}

func newClientLimiter(limit int, window time.Duration, now func() time.Time) *clientLimiter {
	return &clientLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		clients: make(map[string][]time.Time),
	}
}

// allow records an event for key and reports whether it is permitted. When it is
// not, retry is the wait until the oldest event in the window expires.
func (l *clientLimiter) allow(key string) (ok bool, retry time.Duration) {
	now := l.now()
	cut := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		for k, events := range l.clients {
			if len(events) == 0 || !events[len(events)-1].After(cut) {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	events := l.clients[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= l.limit {
		l.clients[key] = dst
		return false, dst[0].Sub(cut)
	}
	l.clients[key] = append(dst, now)
	return true, 0
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// throttleMagic rejects callers that exceed the per-client budget on /magic routes.
func (h *Handler) throttleMagic(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := h.limiter.allow(clientKey(r))
		if !ok {
			h.log.Warn("api.magic.rate_limited", "remote", r.RemoteAddr, "retry_after", retry.String())
			writeRateLimited(w, retry)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
