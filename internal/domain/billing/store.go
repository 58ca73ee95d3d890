package billing

import (
	"context"
	"time"
)

const queryTimeout = 3 * time.Second

// Store persists purchase charges. Get returns nil, nil when the charge is
// unknown.
type Store interface {
	Create(ctx context.Context, c *Charge) error
	Get(ctx context.Context, chargeID string) (*Charge, error)
	UpdateStatus(ctx context.Context, chargeID string, status ChargeStatus) error
	MarkApplied(ctx context.Context, chargeID string, at time.Time) error

	// ListPending returns unapplied charges that are neither declined nor
	// expired and were created before the given time, oldest first.
	ListPending(ctx context.Context, before time.Time, limit int) ([]Charge, error)

	DeleteByShop(ctx context.Context, shop string) error
}

func isOpen(c *Charge) bool {
	return c.AppliedAt == nil && c.Status != StatusDeclined && c.Status != StatusExpired
}
