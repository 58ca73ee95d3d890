package shop

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps installations and settings in process.
type MemoryStore struct {
	mu            sync.RWMutex
	installations map[string]Installation
	settings      map[string]Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		installations: make(map[string]Installation),
		settings:      make(map[string]Settings),
	}
}

func (s *MemoryStore) SaveInstallation(ctx context.Context, inst *Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.installations[inst.ShopKey] = *inst
	return nil
}

func (s *MemoryStore) GetInstallation(ctx context.Context, shop string) (*Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.installations[shop]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (s *MemoryStore) MarkUninstalled(ctx context.Context, shop string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.installations[shop]
	if !ok {
		return nil
	}
	inst.UninstalledAt = &at
	s.installations[shop] = inst
	return nil
}

func (s *MemoryStore) GetSettings(ctx context.Context, shop string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[shop]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryStore) SaveSettings(ctx context.Context, st *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[st.ShopKey] = *st
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, shop string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.installations, shop)
	delete(s.settings, shop)
	return nil
}
