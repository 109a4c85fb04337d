package audit

import (
	"context"
	"time"
)

// AppendRecord is a normalized insert payload. Meta is a JSON object.
type AppendRecord struct {
	OrderID   string
	ActorType ActorType
	ActorID   *string
	Action    Action
	Meta      []byte
	At        time.Time
}

// Record is a stored row with its raw metadata.
type Record struct {
	ID        int64
	OrderID   string
	ActorType ActorType
	ActorID   *string
	Action    Action
	Meta      []byte
	At        time.Time
}

// RecordPage is one page of stored rows, newest first.
type RecordPage struct {
	Records       []Record
	NextPageToken string
}

// Store is the persistence boundary for the audit trail.
//
// Implementations never update or delete rows except PatchStatus, which merges
// a "status" key into the metadata object and leaves every other column intact.
// PatchStatus only touches triageable entries; other existing entries yield
// ErrNotTriageable.
type Store interface {
	Append(ctx context.Context, in AppendRecord) (int64, error)
	Query(ctx context.Context, f Filter) (RecordPage, error)
	PatchStatus(ctx context.Context, id int64, status TriageStatus) (Record, error)
}

// Sink receives every successfully appended entry. Publish must not block.
type Sink interface {
	Publish(e Entry)
}
