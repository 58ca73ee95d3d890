package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const chargesBucket = "purchase_charges"

// Buckets lists the top-level buckets BoltStore needs.
var Buckets = []string{chargesBucket}

// BoltStore keeps charges as JSON values keyed by charge id.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

func (s *BoltStore) Create(ctx context.Context, c *Charge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: encode charge: %v", ErrInternal, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chargesBucket)).Put([]byte(c.ChargeID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: create charge: %v", ErrInternal, err)
	}
	return nil
}

func (s *BoltStore) Get(ctx context.Context, chargeID string) (*Charge, error) {
	var c *Charge
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(chargesBucket)).Get([]byte(chargeID))
		if raw == nil {
			return nil
		}
		c = &Charge{}
		return json.Unmarshal(raw, c)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get charge: %v", ErrInternal, err)
	}
	return c, nil
}

func (s *BoltStore) UpdateStatus(ctx context.Context, chargeID string, status ChargeStatus) error {
	return s.modify(chargeID, func(c *Charge) {
		c.Status = status
		c.UpdatedAt = time.Now().UTC()
	})
}

func (s *BoltStore) MarkApplied(ctx context.Context, chargeID string, at time.Time) error {
	return s.modify(chargeID, func(c *Charge) {
		if c.AppliedAt == nil {
			c.AppliedAt = &at
		}
		c.Status = StatusActive
		c.UpdatedAt = at
	})
}

func (s *BoltStore) ListPending(ctx context.Context, before time.Time, limit int) ([]Charge, error) {
	out := make([]Charge, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chargesBucket)).ForEach(func(k, v []byte) error {
			var c Charge
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if isOpen(&c) && c.CreatedAt.Before(before) {
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", ErrInternal, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BoltStore) DeleteByShop(ctx context.Context, shop string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chargesBucket))

		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var c Charge
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.ShopKey == shop {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete charges: %v", ErrInternal, err)
	}
	return nil
}

func (s *BoltStore) modify(chargeID string, fn func(c *Charge)) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chargesBucket))
		raw := b.Get([]byte(chargeID))
		if raw == nil {
			return ErrChargeNotFound
		}

		var c Charge
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		fn(&c)

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(chargeID), data)
	})
	if err == ErrChargeNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: update charge: %v", ErrInternal, err)
	}
	return nil
}
