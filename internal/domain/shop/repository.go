package shop

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

// SaveInstallation upserts the installation; reinstalling clears uninstalled_at.
func (r *PostgresStore) SaveInstallation(ctx context.Context, inst *Installation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO shop_installations (shop_key, access_token_enc, scope, installed_at, uninstalled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shop_key) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			scope = EXCLUDED.scope,
			installed_at = EXCLUDED.installed_at,
			uninstalled_at = EXCLUDED.uninstalled_at
	`
	_, err := r.db.ExecContext(ctx, query,
		inst.ShopKey, inst.AccessTokenEnc, inst.Scope, inst.InstalledAt, inst.UninstalledAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save installation: %v", ErrInternal, err)
	}
	return nil
}

func (r *PostgresStore) GetInstallation(ctx context.Context, shop string) (*Installation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var inst Installation
	err := r.db.GetContext(ctx, &inst, `
		SELECT shop_key, access_token_enc, scope, installed_at, uninstalled_at
		FROM shop_installations
		WHERE shop_key = $1
	`, shop)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get installation: %v", ErrInternal, err)
	}
	return &inst, nil
}

func (r *PostgresStore) MarkUninstalled(ctx context.Context, shop string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE shop_installations SET uninstalled_at = $2 WHERE shop_key = $1`, shop, at)
	if err != nil {
		return fmt.Errorf("%w: mark uninstalled: %v", ErrInternal, err)
	}
	return nil
}

func (r *PostgresStore) GetSettings(ctx context.Context, shop string) (*Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var st Settings
	err := r.db.GetContext(ctx, &st, `
		SELECT shop_key, button_text, button_color, text_color, daily_limit, updated_at
		FROM shop_settings
		WHERE shop_key = $1
	`, shop)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get settings: %v", ErrInternal, err)
	}
	return &st, nil
}

func (r *PostgresStore) SaveSettings(ctx context.Context, st *Settings) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO shop_settings (shop_key, button_text, button_color, text_color, daily_limit, updated_at)
		VALUES (:shop_key, :button_text, :button_color, :text_color, :daily_limit, :updated_at)
		ON CONFLICT (shop_key) DO UPDATE SET
			button_text = EXCLUDED.button_text,
			button_color = EXCLUDED.button_color,
			text_color = EXCLUDED.text_color,
			daily_limit = EXCLUDED.daily_limit,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, st); err != nil {
		return fmt.Errorf("%w: save settings: %v", ErrInternal, err)
	}
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, shop string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrInternal, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM shop_settings WHERE shop_key = $1`, shop); err != nil {
		return fmt.Errorf("%w: delete settings: %v", ErrInternal, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shop_installations WHERE shop_key = $1`, shop); err != nil {
		return fmt.Errorf("%w: delete installation: %v", ErrInternal, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", ErrInternal, err)
	}
	return nil
}
