package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	portidem "github.com/alanyang/lead-mesh/internal/port/idempotency"
)

var _ portidem.Store = (*IdempotencyStore)(nil)

type idemEntry struct {
	resp      portidem.Response
	done      bool
	claimedAt time.Time
}

type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idemEntry
	now     func() time.Time
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		entries: make(map[string]idemEntry),
		now:     time.Now,
	}
}

func (s *IdempotencyStore) Reserve(_ context.Context, key, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok {
		if e.done || now.Sub(e.claimedAt) < portidem.ClaimTTL {
			return false, nil
		}
	}
	s.entries[key] = idemEntry{claimedAt: now}
	return true, nil
}

func (s *IdempotencyStore) Lookup(_ context.Context, key string) (portidem.Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.done {
		return portidem.Response{}, false, nil
	}
	return e.resp, true, nil
}

func (s *IdempotencyStore) Save(_ context.Context, key string, resp portidem.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.done {
		return nil
	}
	resp.Body = slices.Clone(resp.Body)
	s.entries[key] = idemEntry{resp: resp, done: true, claimedAt: s.now()}
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.done {
		delete(s.entries, key)
	}
	return nil
}
