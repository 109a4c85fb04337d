// Package audittest provides an in-memory audit.Store for tests.
package audittest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"

	"orderdesk/cmd/internal/audit"
)

// ErrUnavailable is returned by Append while the store is failing.
var ErrUnavailable = errors.New("audittest: store unavailable")

// Store keeps records in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	records []audit.Record
	failing bool
}

// New returns an empty Store.
func New() *Store { return &Store{} }

// SetFailing makes Append fail until reset.
func (s *Store) SetFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

// Records returns a copy of the appended records, oldest first.
func (s *Store) Records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

// Actions returns the actions of the appended records, oldest first.
func (s *Store) Actions() []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Action, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Action)
	}
	return out
}

// Count returns the number of records with action.
func (s *Store) Count(action audit.Action) int {
	n := 0
	for _, a := range s.Actions() {
		if a == action {
			n++
		}
	}
	return n
}

func (s *Store) Append(ctx context.Context, in audit.AppendRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.nextID++
	s.records = append(s.records, audit.Record{
		ID:        s.nextID,
		OrderID:   in.OrderID,
		ActorType: in.ActorType,
		ActorID:   in.ActorID,
		Action:    in.Action,
		Meta:      append([]byte(nil), in.Meta...),
		At:        in.At,
	})
	return s.nextID, nil
}

func (s *Store) Query(_ context.Context, f audit.Filter) (audit.RecordPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var before int64
	if f.PageToken != "" {
		v, err := strconv.ParseInt(f.PageToken, 10, 64)
		if err != nil {
			return audit.RecordPage{}, audit.ErrInvalidInput
		}
		before = v
	}
	var out []audit.Record
	for _, r := range s.records {
		if f.Action != "" && r.Action != f.Action {
			continue
		}
		if f.OrderID != "" && r.OrderID != f.OrderID {
			continue
		}
		if before > 0 && r.ID >= before {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	page := audit.RecordPage{}
	if f.PageSize > 0 && len(out) > f.PageSize {
		out = out[:f.PageSize]
		page.NextPageToken = strconv.FormatInt(out[len(out)-1].ID, 10)
	}
	page.Records = out
	return page, nil
}

func (s *Store) PatchStatus(_ context.Context, id int64, status audit.TriageStatus) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ID != id {
			continue
		}
		obj := map[string]any{}
		if len(r.Meta) > 0 {
			if err := json.Unmarshal(r.Meta, &obj); err != nil {
				return audit.Record{}, err
			}
		}
		obj["status"] = string(status)
		b, err := json.Marshal(obj)
		if err != nil {
			return audit.Record{}, err
		}
		s.records[i].Meta = b
		return s.records[i], nil
	}
	return audit.Record{}, audit.ErrNotFound
}
