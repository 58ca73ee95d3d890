package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const chargeColumns = `charge_id, shop_key, pack_id, credits, price, currency, status, confirmation_url, test, applied_at, created_at, updated_at`

func (r *PostgresStore) Create(ctx context.Context, c *Charge) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO purchase_charges (` + chargeColumns + `)
		VALUES (:charge_id, :shop_key, :pack_id, :credits, :price, :currency, :status, :confirmation_url, :test, :applied_at, :created_at, :updated_at)
		ON CONFLICT (charge_id) DO UPDATE SET
			status = EXCLUDED.status,
			confirmation_url = EXCLUDED.confirmation_url,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("%w: create charge: %v", ErrInternal, err)
	}
	return nil
}

func (r *PostgresStore) Get(ctx context.Context, chargeID string) (*Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c Charge
	err := r.db.GetContext(ctx, &c, `SELECT `+chargeColumns+` FROM purchase_charges WHERE charge_id = $1`, chargeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get charge: %v", ErrInternal, err)
	}
	return &c, nil
}

func (r *PostgresStore) UpdateStatus(ctx context.Context, chargeID string, status ChargeStatus) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE purchase_charges SET status = $2, updated_at = now() WHERE charge_id = $1
	`, chargeID, string(status))
	if err != nil {
		return fmt.Errorf("%w: update status: %v", ErrInternal, err)
	}
	return requireRow(res)
}

// MarkApplied keeps the first applied_at when called twice.
func (r *PostgresStore) MarkApplied(ctx context.Context, chargeID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE purchase_charges
		SET applied_at = COALESCE(applied_at, $2), status = $3, updated_at = $2
		WHERE charge_id = $1
	`, chargeID, at, string(StatusActive))
	if err != nil {
		return fmt.Errorf("%w: mark applied: %v", ErrInternal, err)
	}
	return requireRow(res)
}

func (r *PostgresStore) ListPending(ctx context.Context, before time.Time, limit int) ([]Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	charges := make([]Charge, 0)
	err := r.db.SelectContext(ctx, &charges, `
		SELECT `+chargeColumns+`
		FROM purchase_charges
		WHERE applied_at IS NULL
			AND status NOT IN ($1, $2)
			AND created_at < $3
		ORDER BY created_at
		LIMIT $4
	`, string(StatusDeclined), string(StatusExpired), before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", ErrInternal, err)
	}
	return charges, nil
}

func (r *PostgresStore) DeleteByShop(ctx context.Context, shop string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM purchase_charges WHERE shop_key = $1`, shop); err != nil {
		return fmt.Errorf("%w: delete charges: %v", ErrInternal, err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrInternal, err)
	}
	if n == 0 {
		return ErrChargeNotFound
	}
	return nil
}
