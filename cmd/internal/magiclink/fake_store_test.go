package magiclink

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]bool
	links  map[string]Link
	failOn string
	err    error
}

func newMemStore(orderIDs ...string) *memStore {
	m := &memStore{orders: map[string]bool{}, links: map[string]Link{}}
	for _, id := range orderIDs {
		m.orders[id] = true
	}
	return m
}

func (m *memStore) fail(method string) error {
	if m.failOn == method {
		return m.err
	}
	return nil
}

func (m *memStore) insertLocked(in CreateRecord) error {
	for _, l := range m.links {
		if l.TokenHash == in.TokenHash {
			return ErrHashConflict
		}
	}
	m.links[in.ID] = linkFromRecord(in)
	return nil
}

func (m *memStore) IssueLink(_ context.Context, in CreateRecord) (Link, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("IssueLink"); err != nil {
		return Link{}, false, err
	}
	if !m.orders[in.OrderID] {
		return Link{}, false, ErrOrderNotFound
	}
	for _, l := range m.sortedLocked(in.OrderID) {
		if l.StatusAt(in.CreatedAt) == StatusValid {
			return l, false, nil
		}
	}
	if err := m.insertLocked(in); err != nil {
		return Link{}, false, err
	}
	return linkFromRecord(in), true, nil
}

func (m *memStore) ReplaceLinks(_ context.Context, in CreateRecord) (int, Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReplaceLinks"); err != nil {
		return 0, Link{}, err
	}
	if !m.orders[in.OrderID] {
		return 0, Link{}, ErrOrderNotFound
	}
	n := 0
	for id, l := range m.links {
		if l.OrderID == in.OrderID && l.RevokedAt == nil {
			at := in.CreatedAt
			l.RevokedAt = &at
			m.links[id] = l
			n++
		}
	}
	if err := m.insertLocked(in); err != nil {
		return 0, Link{}, err
	}
	return n, linkFromRecord(in), nil
}

func (m *memStore) FindLinkByHash(_ context.Context, hash string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindLinkByHash"); err != nil {
		return Link{}, err
	}
	for _, l := range m.links {
		if l.TokenHash == hash {
			return l, nil
		}
	}
	return Link{}, ErrNotFound
}

func (m *memStore) GetLink(_ context.Context, id string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return Link{}, ErrNotFound
	}
	return l, nil
}

func (m *memStore) RevokeLink(_ context.Context, id string, now time.Time) (Link, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return Link{}, false, ErrNotFound
	}
	if l.RevokedAt != nil {
		return l, false, nil
	}
	l.RevokedAt = &now
	m.links[id] = l
	return l, true, nil
}

func (m *memStore) RecordAccess(_ context.Context, id string, now time.Time) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RecordAccess"); err != nil {
		return Link{}, err
	}
	l, ok := m.links[id]
	if !ok {
		return Link{}, ErrNotFound
	}
	if l.StatusAt(now) != StatusValid {
		return Link{}, ErrNotActive
	}
	l.AccessCount++
	l.LastAccessedAt = &now
	m.links[id] = l
	return l, nil
}

func (m *memStore) ListLinks(_ context.Context, orderID string) ([]Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.orders[orderID] {
		return nil, ErrOrderNotFound
	}
	return m.sortedLocked(orderID), nil
}

func (m *memStore) sortedLocked(orderID string) []Link {
	out := []Link{}
	for _, l := range m.links {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
