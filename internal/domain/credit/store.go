package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const queryTimeout = 3 * time.Second

// Store persists accounts and entries. Every method is atomic per shop:
// implementations serialize Open and Apply for the same shop key.
type Store interface {
	// Open returns the account, creating it with the welcome grant when absent.
	Open(ctx context.Context, shop string, welcome int) (*Account, error)

	// Apply opens the account if needed and applies m. It returns the account
	// after the mutation and whether anything was written. A reference that was
	// already applied with the same delta is a no-op; with a different delta it
	// is ErrReferenceConflict.
	Apply(ctx context.Context, m Mutation, welcome int) (*Account, bool, error)

	// Entries lists the newest entries first.
	Entries(ctx context.Context, shop string, p Pagination) ([]Entry, error)

	// Delete removes the account and all of its entries.
	Delete(ctx context.Context, shop string) error
}

// newAccount builds a fresh account and, for a positive grant, its welcome entry.
func newAccount(shop string, welcome int, now time.Time) (*Account, *Entry) {
	if welcome < 0 {
		welcome = 0
	}
	acc := &Account{
		ShopKey:         shop,
		Balance:         welcome,
		LifetimeCredits: welcome,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if welcome == 0 {
		return acc, nil
	}
	return acc, &Entry{
		ID:           uuid.NewString(),
		ShopKey:      shop,
		Delta:        welcome,
		Kind:         KindWelcome,
		Reference:    welcomeReference,
		Description:  "welcome credits",
		BalanceAfter: welcome,
		CreatedAt:    now,
	}
}

// advance applies m to acc in memory and returns the entry to persist. acc is
// left untouched when an error is returned.
func advance(acc *Account, m Mutation, now time.Time) (*Entry, error) {
	next := acc.Balance + m.Delta
	if next < 0 {
		return nil, ErrInsufficientBalance
	}

	acc.Balance = next
	if m.Delta > 0 {
		acc.LifetimeCredits += m.Delta
	}
	if m.Kind == KindGeneration {
		acc.TotalGenerations++
	}
	acc.UpdatedAt = now

	return &Entry{
		ID:           uuid.NewString(),
		ShopKey:      acc.ShopKey,
		Delta:        m.Delta,
		Kind:         m.Kind,
		Reference:    m.Reference,
		Description:  m.Description,
		BalanceAfter: next,
		CreatedAt:    now,
	}, nil
}

// replay decides what an already applied reference means for m.
func replay(existing *Entry, m Mutation) error {
	if existing.Delta != m.Delta {
		return ErrReferenceConflict
	}
	return nil
}
