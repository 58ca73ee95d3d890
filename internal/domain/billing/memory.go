package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	charges map[string]Charge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{charges: make(map[string]Charge)}
}

// Create inserts c; an existing charge id is overwritten.
func (s *MemoryStore) Create(ctx context.Context, c *Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.charges[c.ChargeID] = *c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, chargeID string) (*Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.charges[chargeID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, chargeID string, status ChargeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[chargeID]
	if !ok {
		return ErrChargeNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	s.charges[chargeID] = c
	return nil
}

func (s *MemoryStore) MarkApplied(ctx context.Context, chargeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[chargeID]
	if !ok {
		return ErrChargeNotFound
	}
	if c.AppliedAt == nil {
		c.AppliedAt = &at
	}
	c.Status = StatusActive
	c.UpdatedAt = at
	s.charges[chargeID] = c
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, before time.Time, limit int) ([]Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Charge, 0)
	for _, c := range s.charges {
		if isOpen(&c) && c.CreatedAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteByShop(ctx context.Context, shop string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.charges {
		if c.ShopKey == shop {
			delete(s.charges, id)
		}
	}
	return nil
}
