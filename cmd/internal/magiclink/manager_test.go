package magiclink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"orderdesk/cmd/internal/apperr"
	"orderdesk/cmd/internal/audit"
	"orderdesk/cmd/internal/audit/audittest"
	"orderdesk/cmd/security/token"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
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

type fixture struct {
	store  *memStore
	audits *audittest.Store
	clock  *testClock
	mgr    *Manager
}

func newFixture(t *testing.T, orderIDs ...string) fixture {
	t.Helper()

	st := newMemStore(orderIDs...)
	audits := audittest.New()
	clock := newTestClock()
	logger, err := audit.NewLogger(audits, audit.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	codec, err := token.NewCodec()
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	mgr, err := NewManager(st, codec, logger, WithClock(clock.Now), WithBaseURL("https://orders.example.com/"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return fixture{store: st, audits: audits, clock: clock, mgr: mgr}
}

func TestManager_IssueLink_OneTimeReveal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()

	first, err := f.mgr.IssueLink(ctx, "42", "staff7")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if !first.Created || first.Token == "" {
		t.Fatalf("expected created link with token")
	}
	if first.URL != "https://orders.example.com/magic/"+first.Token {
		t.Fatalf("unexpected url %q", first.URL)
	}
	if first.Link.TokenHash == first.Token || strings.Contains(first.Link.TokenHash, first.Token) {
		t.Fatalf("raw token must not be persisted")
	}
	if want := f.clock.Now().Add(DefaultTTL); !first.Link.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at=%s want=%s", first.Link.ExpiresAt, want)
	}

	f.clock.Advance(time.Minute)
	second, err := f.mgr.IssueLink(ctx, "42", "staff7")
	if err != nil {
		t.Fatalf("IssueLink again: %v", err)
	}
	if second.Created || second.Token != "" || second.URL != "" {
		t.Fatalf("expected existing link without token, got %+v", second)
	}
	if second.Link.ID != first.Link.ID {
		t.Fatalf("expected same link id")
	}
	if n := f.audits.Count(audit.ActionLinkCreated); n != 1 {
		t.Fatalf("LINK_CREATED count=%d want=1", n)
	}
}

func TestManager_IssueLink_UnknownOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	_, err := f.mgr.IssueLink(context.Background(), "99", "staff7")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := f.mgr.IssueLink(context.Background(), "  ", "staff7"); !apperr.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for empty order id, got %v", err)
	}
	if len(f.audits.Records()) != 0 {
		t.Fatalf("failed issue must not be audited")
	}
}

func TestManager_Regenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()

	t1, err := f.mgr.IssueLink(ctx, "42", "staff7")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	f.clock.Advance(time.Second)
	t2, err := f.mgr.RegenerateLink(ctx, "42", "staff7")
	if err != nil {
		t.Fatalf("RegenerateLink: %v", err)
	}
	if t2.Token == "" || t2.Token == t1.Token {
		t.Fatalf("expected fresh token")
	}

	v1, err := f.mgr.Validate(ctx, t1.Token, false)
	if err != nil || v1.Status != StatusRevoked {
		t.Fatalf("T1 status=%s err=%v want REVOKED", v1.Status, err)
	}
	v2, err := f.mgr.Validate(ctx, t2.Token, false)
	if err != nil || v2.Status != StatusValid {
		t.Fatalf("T2 status=%s err=%v want VALID", v2.Status, err)
	}

	links, err := f.mgr.ListLinks(ctx, "42")
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	active := 0
	for _, l := range links {
		if l.StatusAt(f.clock.Now()) == StatusValid {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active links=%d want=1", active)
	}

	got := f.audits.Actions()
	want := []audit.Action{audit.ActionLinkCreated, audit.ActionLinkRegenerated, audit.ActionLinkCreated}
	if len(got) != len(want) {
		t.Fatalf("actions=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("actions=%v want=%v", got, want)
		}
	}
	for _, r := range f.audits.Records() {
		if r.ActorType != audit.ActorStaff || r.ActorID == nil || *r.ActorID != "staff7" {
			t.Fatalf("expected staff actor, got %+v", r)
		}
	}
}

func TestManager_Validate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()

	issued, err := f.mgr.IssueLink(ctx, "42", "")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}

	for _, raw := range []string{"", "short", strings.Repeat("a", 600), issued.Token[:42] + " "} {
		v, err := f.mgr.Validate(ctx, raw, true)
		if err != nil || v.Status != StatusNotFound {
			t.Fatalf("Validate(%q) status=%s err=%v", raw, v.Status, err)
		}
	}

	unknown := strings.Repeat("A", token.RawLen)
	if v, _ := f.mgr.Validate(ctx, unknown, true); v.Status != StatusNotFound {
		t.Fatalf("unknown token status=%s", v.Status)
	}

	a, _ := f.mgr.Validate(ctx, issued.Token, false)
	b, _ := f.mgr.Validate(ctx, issued.Token, false)
	if a.Status != StatusValid || b.Status != StatusValid || b.Link.AccessCount != 0 {
		t.Fatalf("validate without access must not mutate: %+v %+v", a, b)
	}

	v, err := f.mgr.Validate(ctx, issued.Token, true)
	if err != nil || v.Status != StatusValid {
		t.Fatalf("Validate: %v %s", err, v.Status)
	}
	if v.Link.AccessCount != 1 || v.Link.LastAccessedAt == nil {
		t.Fatalf("expected access recorded, got %+v", v.Link)
	}

	recs := f.audits.Records()
	last := recs[len(recs)-1]
	if last.Action != audit.ActionLinkAccessed || last.ActorType != audit.ActorClient {
		t.Fatalf("expected LINK_ACCESSED by CLIENT, got %+v", last)
	}
	meta := string(last.Meta)
	if strings.Contains(meta, issued.Token) || strings.Contains(meta, issued.Link.TokenHash) {
		t.Fatalf("audit metadata leaks credential: %s", meta)
	}
	if !strings.Contains(meta, token.Prefix(issued.Link.TokenHash)) {
		t.Fatalf("expected hash prefix in metadata: %s", meta)
	}
}

func TestManager_Validate_ExpiredAndRevokedPrecedence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()

	issued, err := f.mgr.IssueLink(ctx, "42", "staff7")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}

	f.clock.Advance(DefaultTTL)
	v, _ := f.mgr.Validate(ctx, issued.Token, true)
	if v.Status != StatusExpired {
		t.Fatalf("status=%s want EXPIRED", v.Status)
	}
	if v.Link.AccessCount != 0 {
		t.Fatalf("expired link must not count access")
	}

	_, err = f.mgr.Authorize(ctx, issued.Token)
	if !apperr.IsForbidden(err) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if st, ok := StatusOf(err); !ok || st != StatusExpired {
		t.Fatalf("expected EXPIRED link error, got %v", err)
	}

	// Revoking an expired link is allowed and revocation then wins.
	if _, err := f.mgr.Revoke(ctx, issued.Link.ID, "staff7"); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
	v, _ = f.mgr.Validate(ctx, issued.Token, false)
	if v.Status != StatusRevoked {
		t.Fatalf("status=%s want REVOKED", v.Status)
	}
}

func TestManager_Revoke_FirstWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()

	issued, _ := f.mgr.IssueLink(ctx, "42", "staff7")
	first, err := f.mgr.Revoke(ctx, issued.Link.ID, "staff7")
	if err != nil || first.RevokedAt == nil {
		t.Fatalf("Revoke: %v", err)
	}
	f.clock.Advance(time.Hour)
	again, err := f.mgr.Revoke(ctx, issued.Link.ID, "staff8")
	if err != nil {
		t.Fatalf("Revoke again: %v", err)
	}
	if !again.RevokedAt.Equal(*first.RevokedAt) {
		t.Fatalf("revoked_at moved: %s -> %s", first.RevokedAt, again.RevokedAt)
	}
	if n := f.audits.Count(audit.ActionLinkRevoked); n != 1 {
		t.Fatalf("LINK_REVOKED count=%d want=1", n)
	}

	if _, err := f.mgr.Revoke(ctx, "01J00000000000000000000000", "staff7"); !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := f.mgr.Revoke(ctx, "nope", "staff7"); !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFound for malformed id, got %v", err)
	}
}

func TestManager_ConcurrentAccessCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()
	issued, _ := f.mgr.IssueLink(ctx, "42", "staff7")

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := f.mgr.Validate(ctx, issued.Token, true); err != nil {
				t.Errorf("Validate: %v", err)
			}
		}()
	}
	wg.Wait()

	l, _ := f.store.GetLink(ctx, issued.Link.ID)
	if l.AccessCount != n {
		t.Fatalf("access_count=%d want=%d", l.AccessCount, n)
	}
	if c := f.audits.Count(audit.ActionLinkAccessed); c != n {
		t.Fatalf("LINK_ACCESSED count=%d want=%d", c, n)
	}
}

func TestManager_AuditFailureDoesNotFailIssue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	f.audits.SetFailing(true)

	issued, err := f.mgr.IssueLink(context.Background(), "42", "staff7")
	if err != nil {
		t.Fatalf("IssueLink with failing audit: %v", err)
	}
	if issued.Token == "" {
		t.Fatalf("expected token")
	}
	if len(f.audits.Records()) != 0 {
		t.Fatalf("expected no audit rows")
	}
}

func TestManager_StoreFailureIsInternal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	f.store.failOn = "IssueLink"
	f.store.err = errors.New("disk full")

	_, err := f.mgr.IssueLink(context.Background(), "42", "staff7")
	if !errors.Is(err, apperr.ErrInternal) {
		t.Fatalf("expected Internal, got %v", err)
	}
	if len(f.audits.Records()) != 0 {
		t.Fatalf("failed write must not be audited")
	}
}

func TestManager_HashConflictRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42", "43")
	ctx := context.Background()

	// Every draw returns the same bytes, so the second order collides each time.
	fixed := strings.NewReader(strings.Repeat("x", 32*(maxIssueAttempts+1)))
	codec, _ := token.NewCodec(token.WithRandom(fixed))
	mgr, _ := NewManager(f.store, codec, nil, WithClock(f.clock.Now))

	if _, err := mgr.IssueLink(ctx, "42", ""); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	_, err := mgr.IssueLink(ctx, "43", "")
	if !errors.Is(err, apperr.ErrInternal) || !errors.Is(err, ErrHashConflict) {
		t.Fatalf("expected internal hash conflict, got %v", err)
	}
}

func TestManager_RequestNewLink(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "42")
	ctx := context.Background()
	issued, _ := f.mgr.IssueLink(ctx, "42", "staff7")

	if _, err := f.mgr.RequestNewLink(ctx, issued.Token, "hi"); !apperr.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for valid link, got %v", err)
	}
	if _, err := f.mgr.RequestNewLink(ctx, strings.Repeat("B", token.RawLen), "hi"); !apperr.IsForbidden(err) {
		t.Fatalf("expected Forbidden for unknown link, got %v", err)
	}

	f.clock.Advance(DefaultTTL + time.Hour)
	link, err := f.mgr.RequestNewLink(ctx, issued.Token, "  event moved, please resend  ")
	if err != nil {
		t.Fatalf("RequestNewLink: %v", err)
	}
	if link.ID != issued.Link.ID {
		t.Fatalf("expected request against the expired link")
	}

	logger, _ := audit.NewLogger(f.audits)
	page, err := logger.Find(ctx, audit.Filter{Action: audit.ActionLinkRequested})
	if err != nil || len(page.Entries) != 1 {
		t.Fatalf("Find: %v %d", err, len(page.Entries))
	}
	e := page.Entries[0]
	req := e.Metadata.(audit.LinkRequested)
	if e.Status != audit.TriageOpen || req.LinkStatus != string(StatusExpired) || req.Message != "event moved, please resend" {
		t.Fatalf("unexpected request entry %+v", e)
	}
}

func TestNewManager_Options(t *testing.T) {
	t.Parallel()

	codec, _ := token.NewCodec()
	st := newMemStore()
	if _, err := NewManager(nil, codec, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewManager(st, codec, nil, WithTTL(0)); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := NewManager(st, codec, nil, WithTTL(MaxTTL+time.Hour)); err == nil {
		t.Fatalf("expected error for ttl above max")
	}
	if _, err := NewManager(st, codec, nil, WithBaseURL("ftp://x")); err == nil {
		t.Fatalf("expected error for non-http base url")
	}
	m, err := NewManager(st, codec, nil, WithTTL(time.Hour), WithBaseURL("http://localhost:9000"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.URL("abc"); got != "http://localhost:9000/magic/abc" {
		t.Fatalf("URL=%q", got)
	}
}
