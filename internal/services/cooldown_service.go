package services

import (
	"context"
	"fmt"
	"time"

	"vidmatch/internal/store"
)

// CooldownService records pairwise match suppression. Records expire through
// the store TTL; there is no sweeper.
type CooldownService struct {
	store store.Store
	now   func() time.Time
}

func NewCooldownService(st store.Store) *CooldownService {
	return &CooldownService{store: st, now: time.Now}
}

// Record suppresses matching a with b for d. The stored value is the
// expiry instant, for operators reading the store.
func (s *CooldownService) Record(ctx context.Context, a, b string, d time.Duration) error {
	until := s.now().Add(d).UTC().Format(time.RFC3339)
	if err := s.store.Set(ctx, cooldownKey(a, b), until, d); err != nil {
		return fmt.Errorf("record cooldown %s/%s: %w", a, b, err)
	}
	return nil
}

func (s *CooldownService) Clear(ctx context.Context, a, b string) error {
	if _, err := s.store.Del(ctx, cooldownKey(a, b)); err != nil {
		return fmt.Errorf("clear cooldown %s/%s: %w", a, b, err)
	}
	return nil
}

func (s *CooldownService) IsActive(ctx context.Context, a, b string) (bool, error) {
	ok, err := s.store.Exists(ctx, cooldownKey(a, b))
	if err != nil {
		return false, fmt.Errorf("check cooldown %s/%s: %w", a, b, err)
	}
	return ok, nil
}
