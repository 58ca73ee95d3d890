package credit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names used by BoltStore.
const (
	accountsBucket = "credit_accounts"
	entriesBucket  = "credit_entries"
	refsBucket     = "credit_refs"
)

// Buckets lists the top-level buckets BoltStore needs.
var Buckets = []string{accountsBucket, entriesBucket, refsBucket}

// BoltStore keeps the ledger in an embedded bolt file. Bolt allows a single
// read-write transaction at a time, so every Apply is serialized.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore expects the buckets in Buckets to exist.
func NewBoltStore(db *bolt.DB) *BoltStore {
	return &BoltStore{db: db, now: time.Now}
}

func (s *BoltStore) Open(ctx context.Context, shop string, welcome int) (*Account, error) {
	var acc *Account
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		acc, err = s.openTx(tx, shop, welcome)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open account: %v", ErrInternal, err)
	}
	return acc, nil
}

func (s *BoltStore) Apply(ctx context.Context, m Mutation, welcome int) (*Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var (
		acc     *Account
		applied bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		acc, err = s.openTx(tx, m.ShopKey, welcome)
		if err != nil {
			return err
		}

		if m.Reference != "" {
			existing, err := lookupRef(tx, m.ShopKey, m.Reference)
			if err != nil {
				return err
			}
			if existing != nil {
				return replay(existing, m)
			}
		}

		entry, err := advance(acc, m, s.now().UTC())
		if err != nil {
			return err
		}
		if err := putAccount(tx, acc); err != nil {
			return err
		}
		applied = true
		return putEntry(tx, entry)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrReferenceConflict) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: apply mutation: %v", ErrInternal, err)
	}
	return acc, applied, nil
}

func (s *BoltStore) Entries(ctx context.Context, shop string, p Pagination) ([]Entry, error) {
	p = p.normalize()
	out := make([]Entry, 0, p.Limit)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket)).Bucket([]byte(shop))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil && len(out) < p.Limit; k, v = c.Prev() {
			if skipped < p.Offset {
				skipped++
				continue
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ErrInternal, err)
	}
	return out, nil
}

func (s *BoltStore) Delete(ctx context.Context, shop string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(accountsBucket)).Delete([]byte(shop)); err != nil {
			return err
		}
		for _, name := range []string{entriesBucket, refsBucket} {
			err := tx.Bucket([]byte(name)).DeleteBucket([]byte(shop))
			if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete account: %v", ErrInternal, err)
	}
	return nil
}

func (s *BoltStore) openTx(tx *bolt.Tx, shop string, welcome int) (*Account, error) {
	if raw := tx.Bucket([]byte(accountsBucket)).Get([]byte(shop)); raw != nil {
		var acc Account
		if err := json.Unmarshal(raw, &acc); err != nil {
			return nil, err
		}
		return &acc, nil
	}

	acc, entry := newAccount(shop, welcome, s.now().UTC())
	if err := putAccount(tx, acc); err != nil {
		return nil, err
	}
	if entry != nil {
		if err := putEntry(tx, entry); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func putAccount(tx *bolt.Tx, acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(accountsBucket)).Put([]byte(acc.ShopKey), data)
}

func putEntry(tx *bolt.Tx, e *Entry) error {
	entries, err := tx.Bucket([]byte(entriesBucket)).CreateBucketIfNotExists([]byte(e.ShopKey))
	if err != nil {
		return err
	}

	seq, err := entries.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := entries.Put(key, data); err != nil {
		return err
	}

	if e.Reference == "" {
		return nil
	}
	refs, err := tx.Bucket([]byte(refsBucket)).CreateBucketIfNotExists([]byte(e.ShopKey))
	if err != nil {
		return err
	}
	return refs.Put([]byte(e.Reference), key)
}

func lookupRef(tx *bolt.Tx, shop, reference string) (*Entry, error) {
	refs := tx.Bucket([]byte(refsBucket)).Bucket([]byte(shop))
	if refs == nil {
		return nil, nil
	}
	key := refs.Get([]byte(reference))
	if key == nil {
		return nil, nil
	}

	raw := tx.Bucket([]byte(entriesBucket)).Bucket([]byte(shop)).Get(key)
	if raw == nil {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
