package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"orderdesk/cmd/internal/approval"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/changerequest"
	"orderdesk/cmd/internal/magiclink"
	"orderdesk/cmd/internal/storage/sqlite"
	"orderdesk/cmd/security/token"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testServer struct {
	srv   *httptest.Server
	clock *testClock
	staff string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, Config{})
}

func newTestServerWithConfig(t *testing.T, cfg Config) *testServer {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.PutOrder(ctx, sqlite.OrderSeed{ID: "42", CustomerName: "Ada Catering Co"}); err != nil {
		t.Fatalf("put order: %v", err)
	}
	if err := store.PutStaff(ctx, "staff7", "Sam Seven"); err != nil {
		t.Fatalf("put staff: %v", err)
	}

	// Real time: staff JWTs are validated against the wall clock.
	clock := &testClock{t: time.Now().UTC()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	auditLog, err := audit.NewLogger(store, audit.WithClock(clock.Now), audit.WithLogger(log))
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	codec, err := token.NewCodec()
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	links, err := magiclink.NewManager(store, codec, auditLog,
		magiclink.WithClock(clock.Now),
		magiclink.WithBaseURL("https://orders.example.com"),
		magiclink.WithLogger(log),
	)
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	orders, err := approval.NewMachine(store, links, auditLog, approval.WithClock(clock.Now), approval.WithLogger(log))
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	requests, err := changerequest.NewWorkflow(store, links, auditLog, changerequest.WithClock(clock.Now), changerequest.WithLogger(log))
	if err != nil {
		t.Fatalf("requests: %v", err)
	}

	staffAuth := newTestStaffAuth(t, nil)
	h, err := NewHandler(log, cfg, Services{
		Links:          links,
		Orders:         orders,
		ChangeRequests: requests,
		Audit:          auditLog,
	}, staffAuth, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	staffTok, _, err := staffAuth.Mint("staff7", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, clock: clock, staff: staffTok}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, staff bool) (*http.Response, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if staff {
		req.Header.Set("Authorization", "Bearer "+ts.staff)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out
}

func mustStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status=%d want=%d body=%s", resp.StatusCode, want, body)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %s: %v", body, err)
	}
	return e.Error.Code
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func TestHandler_StaffRoutesRequireAuth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/staff/orders/42/links", nil, false)
	mustStatus(t, resp, body, http.StatusUnauthorized)
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}
}

func TestHandler_ApprovalFlow(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusCreated)
	issued := decode[issuedResponse](t, body)
	if len(issued.Token) != token.RawLen || issued.URL != "https://orders.example.com/magic/"+issued.Token {
		t.Fatalf("unexpected issue response %s", body)
	}
	if strings.Contains(string(body), "token_hash") {
		t.Fatalf("hash leaked: %s", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	if again := decode[issuedResponse](t, body); again.Token != "" || again.Created {
		t.Fatalf("existing link must not reveal a token: %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/magic/"+issued.Token, nil, false)
	mustStatus(t, resp, body, http.StatusOK)
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("client view must not be cached")
	}
	view := decode[magicViewResponse](t, body)
	if view.Order.CustomerName != "Ada Catering Co" || view.Order.ApprovalStatus != "PENDING" {
		t.Fatalf("unexpected view %s", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/approve", nil, false)
	mustStatus(t, resp, body, http.StatusOK)
	if o := decode[orderResponse](t, body); o.ApprovalStatus != "APPROVED" || !o.IsLocked || o.ApprovedAt == nil {
		t.Fatalf("unexpected approve response %s", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/reject", nil, false)
	mustStatus(t, resp, body, http.StatusBadRequest)
	if code := errorCode(t, body); code != "invalid_request" {
		t.Fatalf("code=%q", code)
	}

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/change-requests",
		map[string]any{"changes": map[string]string{"notes": "add vegan"}, "reason": "dietary"}, false)
	mustStatus(t, resp, body, http.StatusCreated)
	cr := decode[changeRequestResponse](t, body)
	if cr.Status != "PENDING" || string(cr.Changes) != `{"notes":"add vegan"}` {
		t.Fatalf("unexpected change request %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/staff/change-requests?status=pending", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	list := decode[changeRequestsResponse](t, body)
	if len(list.ChangeRequests) != 1 || list.ChangeRequests[0].CustomerName != "Ada Catering Co" {
		t.Fatalf("unexpected list %s", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/staff/change-requests/"+cr.ID+"/review",
		map[string]string{"decision": "reject", "notes": "too late"}, true)
	mustStatus(t, resp, body, http.StatusOK)
	if reviewed := decode[changeRequestResponse](t, body); reviewed.Status != "REJECTED" || reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != "staff7" {
		t.Fatalf("unexpected review %s", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/staff/change-requests/"+cr.ID+"/review",
		map[string]string{"decision": "APPROVE"}, true)
	mustStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.do(t, http.MethodGet, "/staff/change-requests/"+cr.ID, nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	if s := decode[changeRequestResponse](t, body); s.ReviewerName == nil || *s.ReviewerName != "Sam Seven" {
		t.Fatalf("unexpected summary %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/staff/audit?order_id=42&page_size=100", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	var trail struct {
		Entries []struct {
			Action    string `json:"action"`
			ActorType string `json:"actor_type"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &trail); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	want := []string{"CHANGE_REQUEST_REJECTED", "CHANGE_REQUEST_CREATED", "ORDER_APPROVED", "LINK_ACCESSED", "LINK_CREATED"}
	if len(trail.Entries) != len(want) {
		t.Fatalf("audit=%s", body)
	}
	for i, a := range want {
		if trail.Entries[i].Action != a {
			t.Fatalf("audit[%d]=%s want %s", i, trail.Entries[i].Action, a)
		}
	}
}

func TestHandler_LinkErrorCodes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/magic/"+strings.Repeat("A", token.RawLen)+"/approve", nil, false)
	mustStatus(t, resp, body, http.StatusForbidden)
	if code := errorCode(t, body); code != "link_invalid" {
		t.Fatalf("code=%q", code)
	}

	resp, body = ts.do(t, http.MethodPost, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusCreated)
	t1 := decode[issuedResponse](t, body)

	resp, body = ts.do(t, http.MethodPost, "/staff/orders/42/links/regenerate", nil, true)
	mustStatus(t, resp, body, http.StatusCreated)
	t2 := decode[issuedResponse](t, body)
	if t2.Token == "" || t2.Token == t1.Token {
		t.Fatalf("regenerate must reveal a new token")
	}

	resp, body = ts.do(t, http.MethodPost, "/magic/"+t1.Token+"/approve", nil, false)
	mustStatus(t, resp, body, http.StatusForbidden)
	if code := errorCode(t, body); code != "link_revoked" {
		t.Fatalf("code=%q", code)
	}

	ts.clock.Advance(magiclink.DefaultTTL + time.Minute)
	resp, body = ts.do(t, http.MethodGet, "/magic/"+t2.Token, nil, false)
	mustStatus(t, resp, body, http.StatusForbidden)
	if code := errorCode(t, body); code != "link_expired" {
		t.Fatalf("code=%q", code)
	}

	resp, body = ts.do(t, http.MethodGet, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	links := decode[linksResponse](t, body)
	if len(links.Links) != 2 {
		t.Fatalf("links=%s", body)
	}
	statuses := map[string]bool{}
	for _, l := range links.Links {
		statuses[l.Status] = true
	}
	if !statuses["REVOKED"] || !statuses["EXPIRED"] {
		t.Fatalf("statuses=%v", statuses)
	}
}

func TestHandler_LinkRequestTriage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusCreated)
	issued := decode[issuedResponse](t, body)

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/link-requests", map[string]string{"message": "resend"}, false)
	mustStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.do(t, http.MethodPost, "/staff/links/"+issued.Link.ID+"/revoke", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	if l := decode[linkResponse](t, body); l.Status != "REVOKED" || l.RevokedAt == nil {
		t.Fatalf("unexpected revoke %s", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/link-requests", map[string]string{"message": "resend"}, false)
	mustStatus(t, resp, body, http.StatusAccepted)
	if lr := decode[linkRequestResponse](t, body); lr.LinkStatus != "REVOKED" {
		t.Fatalf("unexpected link request %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/staff/audit?action=link_requested", nil, true)
	mustStatus(t, resp, body, http.StatusOK)
	var page struct {
		Entries []struct {
			ID       int64             `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &page); err != nil || len(page.Entries) != 1 {
		t.Fatalf("audit=%s err=%v", body, err)
	}
	if page.Entries[0].Metadata["status"] != "open" || page.Entries[0].Metadata["message"] != "resend" {
		t.Fatalf("metadata=%v", page.Entries[0].Metadata)
	}

	path := "/staff/audit/" + jsonInt(page.Entries[0].ID) + "/status"
	resp, body = ts.do(t, http.MethodPost, path, map[string]string{"status": "resolved"}, true)
	mustStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), `"status":"resolved"`) {
		t.Fatalf("patch=%s", body)
	}

	resp, body = ts.do(t, http.MethodPost, path, map[string]string{"status": "bogus"}, true)
	mustStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.do(t, http.MethodPost, "/staff/audit/999999/status", map[string]string{"status": "resolved"}, true)
	mustStatus(t, resp, body, http.StatusNotFound)
}

func TestHandler_BadInput(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/staff/orders/missing/links", nil, true)
	mustStatus(t, resp, body, http.StatusNotFound)

	resp, body = ts.do(t, http.MethodGet, "/staff/change-requests/not-a-ulid", nil, true)
	mustStatus(t, resp, body, http.StatusNotFound)

	resp, body = ts.do(t, http.MethodGet, "/staff/change-requests?status=weird", nil, true)
	mustStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.do(t, http.MethodGet, "/staff/change-requests?page_size=x", nil, true)
	mustStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.do(t, http.MethodPost, "/staff/orders/42/links", nil, true)
	mustStatus(t, resp, body, http.StatusCreated)
	issued := decode[issuedResponse](t, body)

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/change-requests", map[string]any{"changes": []int{1}, "reason": "x"}, false)
	mustStatus(t, resp, body, http.StatusBadRequest)

	resp, body = ts.do(t, http.MethodPost, "/magic/"+issued.Token+"/change-requests", map[string]any{"reason": "x", "extra": true}, false)
	mustStatus(t, resp, body, http.StatusBadRequest)
	if code := errorCode(t, body); code != "invalid_json" {
		t.Fatalf("code=%q", code)
	}

	resp, body = ts.do(t, http.MethodDelete, "/magic/"+issued.Token+"/approve", nil, false)
	mustStatus(t, resp, body, http.StatusMethodNotAllowed)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
