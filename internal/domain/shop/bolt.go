package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	installationsBucket = "shop_installations"
	settingsBucket      = "shop_settings"
)

// Buckets lists the top-level buckets BoltStore needs.
var Buckets = []string{installationsBucket, settingsBucket}

// installationRecord is the stored form of Installation; the API form hides
// the encrypted token.
type installationRecord struct {
	ShopKey        string     `json:"shop"`
	AccessTokenEnc string     `json:"access_token_enc"`
	Scope          string     `json:"scope"`
	InstalledAt    time.Time  `json:"installed_at"`
	UninstalledAt  *time.Time `json:"uninstalled_at,omitempty"`
}

// BoltStore keeps installations and settings as JSON values keyed by shop.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

func (s *BoltStore) SaveInstallation(ctx context.Context, inst *Installation) error {
	return s.put(installationsBucket, inst.ShopKey, installationRecord(*inst))
}

func (s *BoltStore) GetInstallation(ctx context.Context, shop string) (*Installation, error) {
	var rec installationRecord
	found, err := s.get(installationsBucket, shop, &rec)
	if err != nil || !found {
		return nil, err
	}
	inst := Installation(rec)
	return &inst, nil
}

func (s *BoltStore) MarkUninstalled(ctx context.Context, shop string, at time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(installationsBucket))
		raw := b.Get([]byte(shop))
		if raw == nil {
			return nil
		}

		var rec installationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.UninstalledAt = &at

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(shop), data)
	})
	if err != nil {
		return fmt.Errorf("%w: mark uninstalled: %v", ErrInternal, err)
	}
	return nil
}

func (s *BoltStore) GetSettings(ctx context.Context, shop string) (*Settings, error) {
	var st Settings
	found, err := s.get(settingsBucket, shop, &st)
	if err != nil || !found {
		return nil, err
	}
	st.ShopKey = shop
	return &st, nil
}

func (s *BoltStore) SaveSettings(ctx context.Context, st *Settings) error {
	return s.put(settingsBucket, st.ShopKey, st)
}

func (s *BoltStore) Delete(ctx context.Context, shop string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range Buckets {
			if err := tx.Bucket([]byte(name)).Delete([]byte(shop)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete shop: %v", ErrInternal, err)
	}
	return nil
}

func (s *BoltStore) put(bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInternal, bucket, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrInternal, bucket, err)
	}
	return nil
}

func (s *BoltStore) get(bucket, key string, v interface{}) (bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket([]byte(bucket)).Get([]byte(key)); data != nil {
			raw = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrInternal, bucket, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrInternal, bucket, err)
	}
	return true, nil
}
