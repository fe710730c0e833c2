package localstate

import (
	"context"
	"sync"

	"github.com/fedlab/fedflow/types"
)

// MemoryStore is an in-memory implementation of Store. Suitable for
// development and testing; data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	plans  map[string]map[string]entry
	closed bool
}

type entry struct {
	ref  types.StateRef
	data []byte
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]map[string]entry)}
}

// Save persists the payload of one state.
func (s *MemoryStore) Save(ctx context.Context, planKey string, ref types.StateRef, data []byte) error {
	if ref.Key == "" {
		return ErrInvalidRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	states, ok := s.plans[planKey]
	if !ok {
		states = make(map[string]entry)
		s.plans[planKey] = states
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	states[ref.Key] = entry{ref: ref, data: buf}
	return nil
}

// Get returns the payload saved for refKey.
func (s *MemoryStore) Get(ctx context.Context, planKey, refKey string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.plans[planKey][refKey]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(e.data))
	copy(buf, e.data)
	return buf, nil
}

// Delete removes one state.
func (s *MemoryStore) Delete(ctx context.Context, planKey, refKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.plans[planKey], refKey)
	return nil
}

// DeleteBefore removes every state of the plan below the given round.
func (s *MemoryStore) DeleteBefore(ctx context.Context, planKey string, round int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for key, e := range s.plans[planKey] {
		if e.ref.Round < round {
			delete(s.plans[planKey], key)
			removed++
		}
	}
	return removed, nil
}

// List returns the refs of every state saved for the plan.
func (s *MemoryStore) List(ctx context.Context, planKey string) ([]types.StateRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	refs := make([]types.StateRef, 0, len(s.plans[planKey]))
	for _, e := range s.plans[planKey] {
		refs = append(refs, e.ref)
	}
	return refs, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
