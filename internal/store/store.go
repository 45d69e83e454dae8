package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names.
var (
	bucketIdentity = []byte("identity")
	bucketGroups   = []byte("groups")
	bucketKeys     = []byte("keys")
)

// Fixed keys inside single-record buckets.
var (
	keyIdentity = []byte("identity")
	keyInit     = []byte("init")
)

// Store is a bolt database holding one client's state.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path and ensures all buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketIdentity, bucketGroups, bucketKeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}
