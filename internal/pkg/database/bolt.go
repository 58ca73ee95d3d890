package database

import (
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/rs/zerolog/log"
)

// NewBolt opens (or creates) the embedded database file and makes sure the
// given buckets exist.
func NewBolt(path string, buckets ...string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Opened bolt database")
	return db, nil
}

// CloseBolt releases the database file lock.
func CloseBolt(db *bolt.DB) {
	if db != nil {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing bolt database")
		} else {
			log.Info().Msg("Bolt database closed")
		}
	}
}
