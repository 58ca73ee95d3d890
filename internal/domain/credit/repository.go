package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore keeps the ledger in Postgres. Mutations lock the account row
// with SELECT ... FOR UPDATE, and a partial unique index on
// (shop_key, reference) backs idempotency.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Open(ctx context.Context, shop string, welcome int) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acc, err := r.lockAccount(ctx2, tx, shop, welcome)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return acc, nil
}

func (r *PostgresStore) Apply(ctx context.Context, m Mutation, welcome int) (*Account, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	acc, err := r.lockAccount(ctx2, tx, m.ShopKey, welcome)
	if err != nil {
		return nil, false, err
	}

	if m.Reference != "" {
		existing, err := r.entryByReference(ctx2, tx, m.ShopKey, m.Reference)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if err := replay(existing, m); err != nil {
				return nil, false, err
			}
			if err := tx.Commit(); err != nil {
				return nil, false, fmt.Errorf("%w: commit tx", ErrInternal)
			}
			return acc, false, nil
		}
	}

	entry, err := advance(acc, m, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx2, `
		UPDATE shop_accounts
		SET balance = $2, lifetime_credits = $3, total_generations = $4, updated_at = $5
		WHERE shop_key = $1
	`, acc.ShopKey, acc.Balance, acc.LifetimeCredits, acc.TotalGenerations, acc.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: update balance", ErrInternal)
	}

	if err := r.insertEntry(ctx2, tx, entry); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return acc, true, nil
}

func (r *PostgresStore) Entries(ctx context.Context, shop string, p Pagination) ([]Entry, error) {
	p = p.normalize()

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	entries := make([]Entry, 0)
	err := r.db.SelectContext(ctx2, &entries, `
		SELECT id, shop_key, delta, kind, COALESCE(reference, '') AS reference, description, balance_after, created_at
		FROM credit_entries
		WHERE shop_key = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, shop, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries", ErrInternal)
	}
	return entries, nil
}

func (r *PostgresStore) Delete(ctx context.Context, shop string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// credit_entries rows go with the account through ON DELETE CASCADE.
	if _, err := r.db.ExecContext(ctx2, `DELETE FROM shop_accounts WHERE shop_key = $1`, shop); err != nil {
		return fmt.Errorf("%w: delete account", ErrInternal)
	}
	return nil
}

// lockAccount creates the account with its welcome entry when missing, then
// takes the row lock.
func (r *PostgresStore) lockAccount(ctx context.Context, tx *sqlx.Tx, shop string, welcome int) (*Account, error) {
	fresh, entry := newAccount(shop, welcome, time.Now().UTC())

	res, err := tx.ExecContext(ctx, `
		INSERT INTO shop_accounts (shop_key, balance, lifetime_credits, total_generations, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (shop_key) DO NOTHING
	`, fresh.ShopKey, fresh.Balance, fresh.LifetimeCredits, fresh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: ensure account", ErrInternal)
	}

	created, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if created == 1 && entry != nil {
		if err := r.insertEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	var acc Account
	err = tx.GetContext(ctx, &acc, `
		SELECT shop_key, balance, lifetime_credits, total_generations, created_at, updated_at
		FROM shop_accounts
		WHERE shop_key = $1
		FOR UPDATE
	`, shop)
	if err != nil {
		return nil, fmt.Errorf("%w: lock account", ErrInternal)
	}
	return &acc, nil
}

func (r *PostgresStore) entryByReference(ctx context.Context, tx *sqlx.Tx, shop, reference string) (*Entry, error) {
	var e Entry
	err := tx.GetContext(ctx, &e, `
		SELECT id, shop_key, delta, kind, reference, description, balance_after, created_at
		FROM credit_entries
		WHERE shop_key = $1 AND reference = $2
	`, shop, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup reference", ErrInternal)
	}
	return &e, nil
}

func (r *PostgresStore) insertEntry(ctx context.Context, tx *sqlx.Tx, e *Entry) error {
	var ref interface{}
	if e.Reference != "" {
		ref = e.Reference
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_entries (id, shop_key, delta, kind, reference, description, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ShopKey, e.Delta, string(e.Kind), ref, e.Description, e.BalanceAfter, e.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Only reachable if a row with this reference appeared after the
			// FOR UPDATE lock was taken, which the lock rules out.
			return ErrReferenceConflict
		}
		return fmt.Errorf("%w: insert entry", ErrInternal)
	}
	return nil
}
