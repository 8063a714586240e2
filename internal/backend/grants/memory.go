package grants

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jo-hoe/imagecapture/internal/provider"
)

type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	grants map[string]Grant
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:    now,
		grants: make(map[string]Grant),
	}
}

func (s *MemoryStore) Issue(_ context.Context, ref provider.ImageReference, ttl time.Duration) (Grant, error) {
	if ttl <= 0 {
		return Grant{}, fmt.Errorf("grant ttl must be positive, got %v", ttl)
	}
	grant := Grant{
		Token:     newToken(),
		Ref:       ref,
		ExpiresAt: s.now().Add(ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	s.grants[grant.Token] = grant
	return grant, nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (provider.ImageReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[token]
	if !ok {
		return provider.Empty, ErrGrantNotFound
	}
	if !s.now().Before(grant.ExpiresAt) {
		delete(s.grants, token)
		return provider.Empty, ErrGrantNotFound
	}
	return grant.Ref, nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, token)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) purgeLocked() {
	now := s.now()
	for token, grant := range s.grants {
		if !now.Before(grant.ExpiresAt) {
			delete(s.grants, token)
		}
	}
}
