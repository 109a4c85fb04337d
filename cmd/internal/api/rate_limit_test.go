package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newClientLimiter(2, time.Minute, clock.Now)

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("10.0.0.1"); !ok {
			t.Fatalf("event %d should be allowed", i)
		}
		clock.Advance(10 * time.Second)
	}

	ok, retry := l.allow("10.0.0.1")
	if ok {
		t.Fatalf("third event inside the window should be blocked")
	}
	if retry != 40*time.Second {
		t.Fatalf("retry=%s want 40s", retry)
	}
	if ok, _ := l.allow("10.0.0.2"); !ok {
		t.Fatalf("other clients have their own budget")
	}

	clock.Advance(41 * time.Second)
	if ok, _ := l.allow("10.0.0.1"); !ok {
		t.Fatalf("oldest event expired; expected allow")
	}
}

func TestClientLimiter_SweepsIdleClients(t *testing.T) {
	t.Parallel()

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newClientLimiter(5, time.Minute, clock.Now)

	l.allow("a")
	l.allow("b")
	if got := l.size(); got != 2 {
		t.Fatalf("size=%d want 2", got)
	}

	clock.Advance(2 * time.Minute)
	l.allow("c")
	if got := l.size(); got != 1 {
		t.Fatalf("size=%d want 1 after sweep", got)
	}
}

func TestWriteRateLimited_RoundsRetryUp(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	writeRateLimited(rr, 1500*time.Millisecond)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After=%q want 2", got)
	}
}

func TestHandler_MagicRoutesThrottled(t *testing.T) {
	t.Parallel()

	ts := newTestServerWithConfig(t, Config{MagicRateLimit: 3, MagicRateWindow: time.Minute})

	for i := 0; i < 3; i++ {
		resp, body := ts.do(t, http.MethodGet, "/magic/unknown-token", nil, false)
		mustStatus(t, resp, body, http.StatusForbidden)
	}
	resp, body := ts.do(t, http.MethodGet, "/magic/unknown-token", nil, false)
	mustStatus(t, resp, body, http.StatusTooManyRequests)
	if code := errorCode(t, body); code != "rate_limited" {
		t.Fatalf("code=%q want rate_limited", code)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// Staff routes are not throttled.
	resp, body = ts.do(t, http.MethodGet, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
}
