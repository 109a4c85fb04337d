package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"orderdesk/cmd/internal/storage/pgtest"
)

func TestPostgresStore_AppendQueryPatch(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Open(t, "od_audit_it")

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)
	staff := "staff7"

	appended := make([]int64, 0, 3)
	for _, in := range []AppendRecord{
		{OrderID: "42", ActorType: ActorStaff, ActorID: &staff, Action: ActionLinkCreated, Meta: []byte(`{"link_id":"l1"}`), At: at},
		{OrderID: "42", ActorType: ActorClient, Action: ActionLinkRequested, Meta: []byte(`{"message":"new link please","status":"open"}`), At: at.Add(time.Second)},
		{OrderID: "43", ActorType: ActorSystem, Action: ActionLinkCreated, At: at.Add(2 * time.Second)},
	} {
		id, err := store.Append(ctx, in)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		appended = append(appended, id)
	}

	page, err := store.Query(ctx, Filter{OrderID: "42", PageSize: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].ID != appended[1] || page.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, err = store.Query(ctx, Filter{OrderID: "42", PageSize: 1, PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("query page 2: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].ID != appended[0] || page.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", page)
	}
	if got := page.Records[0]; got.ActorID == nil || *got.ActorID != staff || !got.At.Equal(at) {
		t.Fatalf("unexpected record: %+v", got)
	}

	page, err = store.Query(ctx, Filter{Action: ActionLinkCreated, PageSize: 10})
	if err != nil {
		t.Fatalf("query by action: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("action filter returned %d records", len(page.Records))
	}

	before, err := store.Query(ctx, Filter{OrderID: "42", Action: ActionLinkRequested, PageSize: 1})
	if err != nil || len(before.Records) != 1 {
		t.Fatalf("query requested: %v", err)
	}
	rec, err := store.PatchStatus(ctx, appended[1], TriageResolved)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	orig := before.Records[0]
	if rec.Action != orig.Action || rec.ActorType != orig.ActorType || !rec.At.Equal(orig.At) || rec.OrderID != orig.OrderID {
		t.Fatalf("patch rewrote history: before=%+v after=%+v", orig, rec)
	}
	var meta map[string]any
	if err := json.Unmarshal(rec.Meta, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta["status"] != "resolved" || meta["message"] != "new link please" {
		t.Fatalf("unexpected merged metadata: %v", meta)
	}

	if _, err := store.PatchStatus(ctx, 1<<40, TriageResolved); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PatchStatus(ctx, appended[0], TriageResolved); !errors.Is(err, ErrNotTriageable) {
		t.Fatalf("expected ErrNotTriageable for LINK_CREATED, got %v", err)
	}
	if _, err := store.Query(ctx, Filter{PageSize: 10, PageToken: "nope"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad token, got %v", err)
	}
}
