// Package stores opens the persistence backend selected by STORE_DRIVER and
// hands out the per-domain stores built on it.
package stores

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"github.com/jmoiron/sqlx"

	"github.com/fitroom/fitroom-api/internal/config"
	"github.com/fitroom/fitroom-api/internal/domain/billing"
	"github.com/fitroom/fitroom-api/internal/domain/credit"
	"github.com/fitroom/fitroom-api/internal/domain/shop"
	"github.com/fitroom/fitroom-api/internal/pkg/database"
)

// Set groups the stores of one backend.
type Set struct {
	Driver  string
	Credits credit.Store
	Shops   shop.Store
	Charges billing.Store

	pg   *sqlx.DB
	bolt *bolt.DB
}

// Open connects to the configured backend. The postgres driver also applies
// the embedded schema.
func Open(ctx context.Context, cfg *config.Config) (*Set, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return Memory(), nil

	case config.StoreBolt:
		buckets := make([]string, 0, len(credit.Buckets)+len(shop.Buckets)+len(billing.Buckets))
		buckets = append(buckets, credit.Buckets...)
		buckets = append(buckets, shop.Buckets...)
		buckets = append(buckets, billing.Buckets...)

		db, err := database.NewBolt(cfg.BoltPath, buckets...)
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return &Set{
			Driver:  config.StoreBolt,
			Credits: credit.NewBoltStore(db),
			Shops:   shop.NewBoltStore(db),
			Charges: billing.NewBoltStore(db),
			bolt:    db,
		}, nil

	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			database.ClosePostgres(db)
			return nil, err
		}
		return &Set{
			Driver:  config.StorePostgres,
			Credits: credit.NewPostgresStore(db),
			Shops:   shop.NewPostgresStore(db),
			Charges: billing.NewPostgresStore(db),
			pg:      db,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Memory returns process-local stores.
func Memory() *Set {
	return &Set{
		Driver:  config.StoreMemory,
		Credits: credit.NewMemoryStore(),
		Shops:   shop.NewMemoryStore(),
		Charges: billing.NewMemoryStore(),
	}
}

// Close releases the underlying connection or file lock.
func (s *Set) Close() {
	database.ClosePostgres(s.pg)
	database.CloseBolt(s.bolt)
}
