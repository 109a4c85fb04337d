package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records []Record
	failErr error
	lastCtx context.Context
}

func (m *memStore) Append(ctx context.Context, in AppendRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCtx = ctx
	if m.failErr != nil {
		return 0, m.failErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.nextID++
	m.records = append(m.records, Record{
		ID:        m.nextID,
		OrderID:   in.OrderID,
		ActorType: in.ActorType,
		ActorID:   in.ActorID,
		Action:    in.Action,
		Meta:      append([]byte(nil), in.Meta...),
		At:        in.At,
	})
	return m.nextID, nil
}

func (m *memStore) Query(_ context.Context, f Filter) (RecordPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var before int64
	if f.PageToken != "" {
		v, err := strconv.ParseInt(f.PageToken, 10, 64)
		if err != nil {
			return RecordPage{}, ErrInvalidInput
		}
		before = v
	}
	var out []Record
	for _, r := range m.records {
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
	page := RecordPage{}
	if len(out) > f.PageSize {
		out = out[:f.PageSize]
		page.NextPageToken = strconv.FormatInt(out[len(out)-1].ID, 10)
	}
	page.Records = out
	return page, nil
}

func (m *memStore) PatchStatus(_ context.Context, id int64, status TriageStatus) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID != id {
			continue
		}
		if !r.Action.Triageable() {
			return Record{}, ErrNotTriageable
		}
		obj := map[string]any{}
		if len(r.Meta) > 0 {
			if err := json.Unmarshal(r.Meta, &obj); err != nil {
				return Record{}, err
			}
		}
		obj["status"] = string(status)
		b, err := json.Marshal(obj)
		if err != nil {
			return Record{}, err
		}
		m.records[i].Meta = b
		return m.records[i], nil
	}
	return Record{}, ErrNotFound
}

var errStoreDown = errors.New("store down")
