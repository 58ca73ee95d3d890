package credit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the ledger in process. A single mutex serializes all
// mutations, which also gives per-shop serialization.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  map[string][]Entry
	refs     map[string]map[string]int // shop -> reference -> index into entries
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		entries:  make(map[string][]Entry),
		refs:     make(map[string]map[string]int),
		now:      time.Now,
	}
}

func (s *MemoryStore) Open(ctx context.Context, shop string, welcome int) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.openLocked(shop, welcome)
	out := *acc
	return &out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, m Mutation, welcome int) (*Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.openLocked(m.ShopKey, welcome)

	if m.Reference != "" {
		if idx, ok := s.refs[m.ShopKey][m.Reference]; ok {
			if err := replay(&s.entries[m.ShopKey][idx], m); err != nil {
				return nil, false, err
			}
			out := *acc
			return &out, false, nil
		}
	}

	next := *acc
	entry, err := advance(&next, m, s.now().UTC())
	if err != nil {
		return nil, false, err
	}
	*acc = next
	s.appendLocked(*entry)

	out := *acc
	return &out, true, nil
}

func (s *MemoryStore) Entries(ctx context.Context, shop string, p Pagination) ([]Entry, error) {
	p = p.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[shop]
	out := make([]Entry, 0, p.Limit)
	for i := len(all) - 1 - p.Offset; i >= 0 && len(out) < p.Limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, shop string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, shop)
	delete(s.entries, shop)
	delete(s.refs, shop)
	return nil
}

func (s *MemoryStore) openLocked(shop string, welcome int) *Account {
	if acc, ok := s.accounts[shop]; ok {
		return acc
	}
	acc, entry := newAccount(shop, welcome, s.now().UTC())
	s.accounts[shop] = acc
	if entry != nil {
		s.appendLocked(*entry)
	}
	return acc
}

func (s *MemoryStore) appendLocked(e Entry) {
	s.entries[e.ShopKey] = append(s.entries[e.ShopKey], e)
	if e.Reference == "" {
		return
	}
	if s.refs[e.ShopKey] == nil {
		s.refs[e.ShopKey] = make(map[string]int)
	}
	s.refs[e.ShopKey][e.Reference] = len(s.entries[e.ShopKey]) - 1
}
