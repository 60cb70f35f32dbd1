package otp

import (
	"context"
	"sync"

	"github.com/congo-pay/rewards_auth/internal/phone"
)

// Store keeps the latest challenge per phone, which is what makes "at most one
// active challenge per phone" hold: a new challenge replaces the old record.
type Store interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, p phone.Number) (Challenge, error)
	// Mutate runs fn atomically against the current record (nil when absent).
	// A non-nil result is written back even when fn also returns an error, so a
	// failed verification can still persist its attempt count. fn may run more
	// than once under contention and must not have side effects.
	Mutate(ctx context.Context, p phone.Number, fn func(cur *Challenge) (*Challenge, error)) error
	// Delete removes the record only if it still has the given id.
	Delete(ctx context.Context, p phone.Number, id string) error
}

type memoryStore struct {
	mu      sync.Mutex
	records map[phone.Number]Challenge
}

// NewMemoryStore builds an in-process store for development and tests.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[phone.Number]Challenge)}
}

func (s *memoryStore) Get(_ context.Context, p phone.Number) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[p]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) Mutate(_ context.Context, p phone.Number, fn func(cur *Challenge) (*Challenge, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur *Challenge
	if c, ok := s.records[p]; ok {
		cur = &c
	}
	next, err := fn(cur)
	if next != nil {
		s.records[p] = *next
	}
	return err
}

func (s *memoryStore) Delete(_ context.Context, p phone.Number, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.records[p]; ok && c.ID == id {
		delete(s.records, p)
	}
	return nil
}
