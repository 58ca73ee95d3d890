package credit

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fitroom/fitroom-api/internal/pkg/metrics"
)

// Notifier receives every applied mutation. It must not block.
type Notifier interface {
	NotifyBalance(ctx context.Context, ev BalanceEvent)
}

// Ledger is the only writer of shop balances.
type Ledger struct {
	store    Store
	welcome  int
	notifier Notifier
}

func NewLedger(store Store, welcome int) *Ledger {
	if welcome < 0 {
		welcome = 0
	}
	return &Ledger{store: store, welcome: welcome}
}

// WithNotifier sets the subscriber for balance events.
func (l *Ledger) WithNotifier(n Notifier) *Ledger {
	l.notifier = n
	return l
}

// Balance returns the shop balance, opening the account with the welcome
// grant on first use.
func (l *Ledger) Balance(ctx context.Context, shop string) (int, error) {
	acc, err := l.Account(ctx, shop)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func (l *Ledger) Account(ctx context.Context, shop string) (*Account, error) {
	if shop == "" {
		return nil, ErrMissingShop
	}
	return l.store.Open(ctx, shop, l.welcome)
}

// Credit adds amount under idempotencyKey. Replaying a key with the same
// amount returns the current balance with Applied=false.
func (l *Ledger) Credit(ctx context.Context, shop string, amount int, kind EntryKind, idempotencyKey, description string) (Result, error) {
	if shop == "" {
		return Result{}, ErrMissingShop
	}
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return Result{}, ErrMissingReference
	}
	if kind == "" {
		kind = KindPurchase
	}

	return l.apply(ctx, Mutation{
		ShopKey:     shop,
		Delta:       amount,
		Kind:        kind,
		Reference:   idempotencyKey,
		Description: description,
	})
}

// Debit removes amount for a generation. reference may be empty.
func (l *Ledger) Debit(ctx context.Context, shop string, amount int, reference, description string) (Result, error) {
	if shop == "" {
		return Result{}, ErrMissingShop
	}
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}

	return l.apply(ctx, Mutation{
		ShopKey:     shop,
		Delta:       -amount,
		Kind:        KindGeneration,
		Reference:   reference,
		Description: description,
	})
}

func (l *Ledger) History(ctx context.Context, shop string, p Pagination) ([]Entry, error) {
	if shop == "" {
		return nil, ErrMissingShop
	}
	return l.store.Entries(ctx, shop, p)
}

// Erase drops the account and its history. The next read recreates the
// account with a fresh welcome grant.
func (l *Ledger) Erase(ctx context.Context, shop string) error {
	if shop == "" {
		return ErrMissingShop
	}
	if err := l.store.Delete(ctx, shop); err != nil {
		return err
	}
	log.Info().Str("shop", shop).Msg("credit account erased")
	return nil
}

func (l *Ledger) apply(ctx context.Context, m Mutation) (Result, error) {
	acc, applied, err := l.store.Apply(ctx, m, l.welcome)
	if err != nil {
		metrics.LedgerMutationsTotal.WithLabelValues(string(m.Kind), "rejected").Inc()
		if !errors.Is(err, ErrInsufficientBalance) && !errors.Is(err, ErrReferenceConflict) {
			log.Error().Err(err).Str("shop", m.ShopKey).Str("kind", string(m.Kind)).Msg("ledger mutation failed")
		}
		return Result{}, err
	}

	if !applied {
		metrics.LedgerMutationsTotal.WithLabelValues(string(m.Kind), "duplicate").Inc()
		log.Info().Str("shop", m.ShopKey).Str("reference", m.Reference).Msg("ledger mutation already applied")
		return Result{Balance: acc.Balance, Applied: false}, nil
	}

	metrics.LedgerMutationsTotal.WithLabelValues(string(m.Kind), "applied").Inc()
	log.Info().
		Str("shop", m.ShopKey).
		Int("delta", m.Delta).
		Str("kind", string(m.Kind)).
		Str("reference", m.Reference).
		Int("balance", acc.Balance).
		Msg("ledger mutation applied")

	if l.notifier != nil {
		l.notifier.NotifyBalance(ctx, BalanceEvent{
			ShopKey: m.ShopKey,
			Balance: acc.Balance,
			Delta:   m.Delta,
			Kind:    m.Kind,
		})
	}

	return Result{Balance: acc.Balance, Applied: true}, nil
}
