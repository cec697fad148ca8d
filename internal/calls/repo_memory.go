package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// It keeps terminal rows so redelivered creates stay idempotent, like the Postgres table.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]CallEntry
	clock func() time.Time

	// Fail, when set, is returned by every operation (simulates an unreachable database).
	Fail error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]CallEntry{}, clock: time.Now}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Create(ctx context.Context, e CallEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return unavailable(s.Fail)
	}
	if _, ok := s.rows[e.CallID]; ok {
		return ErrDuplicateKey
	}
	now := s.clock().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.rows[e.CallID] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (CallEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return CallEntry{}, unavailable(s.Fail)
	}
	e, ok := s.rows[callID]
	if !ok {
		return CallEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) List(ctx context.Context, activeOnly bool) ([]CallEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, unavailable(s.Fail)
	}
	out := make([]CallEntry, 0, len(s.rows))
	for _, e := range s.rows {
		if e.Status.Terminal() {
			continue
		}
		if activeOnly && !e.Status.Waiting() {
			continue
		}
		out = append(out, e)
	}
	SortFIFO(out)
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, callID string, from, to CallStatus) (CallEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return CallEntry{}, unavailable(s.Fail)
	}
	e, ok := s.rows[callID]
	if !ok {
		return CallEntry{}, ErrNotFound
	}
	if e.Status != from {
		return CallEntry{}, ErrStatusConflict
	}
	e.Status = to
	e.UpdatedAt = s.clock().UTC()
	s.rows[callID] = e
	return e, nil
}

func (s *MemoryStore) Remove(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return unavailable(s.Fail)
	}
	if _, ok := s.rows[callID]; !ok {
		return ErrNotFound
	}
	delete(s.rows, callID)
	return nil
}

func (s *MemoryStore) ListTerminal(ctx context.Context, before time.Time) ([]CallEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, unavailable(s.Fail)
	}
	var out []CallEntry
	for _, e := range s.rows {
		if e.Status.Terminal() && e.UpdatedAt.Before(before) {
			out = append(out, e)
		}
	}
	SortFIFO(out)
	return out, nil
}

// Rows returns a copy of every row, terminal ones included.
func (s *MemoryStore) Rows() []CallEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallEntry, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e)
	}
	SortFIFO(out)
	return out
}
