package changerequest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"orderdesk/cmd/internal/ids"
	"orderdesk/cmd/internal/storage/pgtest"
)

func TestPostgresStore_CreateReviewList(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t, "od_changereq_it")
	pgtest.InsertOrder(t, pool, schema, "42", "Ada")
	pgtest.InsertStaff(t, pool, schema, "staff7", "Sam Seven")

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id, _ := ids.NewULID(now)
	cr, err := store.CreateChangeRequest(ctx, ChangeRequest{
		ID:          id,
		OrderID:     "42",
		Changes:     json.RawMessage(`{"notes":"add vegan"}`),
		Reason:      "dietary",
		RequestedAt: now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cr.Status != StatusPending {
		t.Fatalf("status=%s", cr.Status)
	}

	missing, _ := ids.NewULID(now)
	if _, err := store.CreateChangeRequest(ctx, ChangeRequest{ID: missing, OrderID: "nope", Reason: "x", RequestedAt: now}); err != ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	notes := "too late"
	reviewed, err := store.ReviewChangeRequest(ctx, ReviewRecord{ID: id, To: StatusRejected, ReviewerID: "staff7", Notes: &notes, At: now})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != StatusRejected || *reviewed.ReviewedBy != "staff7" {
		t.Fatalf("unexpected %+v", reviewed)
	}
	if _, err := store.ReviewChangeRequest(ctx, ReviewRecord{ID: id, To: StatusApproved, ReviewerID: "staff7", At: now}); err != ErrNotPending {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if _, err := store.ReviewChangeRequest(ctx, ReviewRecord{ID: missing, To: StatusApproved, ReviewerID: "staff7", At: now}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	page, err := store.ListChangeRequests(ctx, ListFilter{Status: StatusRejected, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Requests) != 1 {
		t.Fatalf("requests=%d want=1", len(page.Requests))
	}
	s := page.Requests[0]
	if s.CustomerName != "Ada" || s.ReviewerName == nil || *s.ReviewerName != "Sam Seven" {
		t.Fatalf("unexpected summary %+v", s)
	}
	var changes map[string]string
	if err := json.Unmarshal(s.Changes, &changes); err != nil || changes["notes"] != "add vegan" {
		t.Fatalf("changes=%s err=%v", s.Changes, err)
	}
}
