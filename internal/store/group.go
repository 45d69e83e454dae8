package store

import (
	"fmt"

	"go.etcd.io/bbolt"

	"conclave/internal/domain"
	"conclave/internal/protocol/cgka"
)

// SaveGroup stores an opaque protocol snapshot for group.
func (s *Store) SaveGroup(group domain.GroupID, state []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGroups).Put(group.Slice(), state)
	})
}

// LoadGroup returns the snapshot for group, or domain.ErrGroupNotFound.
func (s *Store) LoadGroup(group domain.GroupID) ([]byte, error) {
	var state []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketGroups).Get(group.Slice())
		if raw == nil {
			return fmt.Errorf("group %s: %w", group, domain.ErrGroupNotFound)
		}
		state = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// DeleteGroup removes the snapshot for group. Deleting an absent group
// is not an error.
func (s *Store) DeleteGroup(group domain.GroupID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGroups).Delete(group.Slice())
	})
}

// SaveInitKey retains the private half of the published key package.
func (s *Store) SaveInitKey(priv domain.X25519Private) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).Put(keyInit, priv.Slice())
	})
}

// LoadInitKey returns the retained init key, or
// domain.ErrKeyPackageNotFound when no package was ever issued.
func (s *Store) LoadInitKey() (domain.X25519Private, error) {
	var priv domain.X25519Private
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketKeys).Get(keyInit)
		if len(raw) != len(priv) {
			return domain.ErrKeyPackageNotFound
		}
		copy(priv[:], raw)
		return nil
	})
	if err != nil {
		return domain.X25519Private{}, err
	}
	return priv, nil
}

// Compile-time assertion that Store implements cgka.StateStore.
var _ cgka.StateStore = (*Store)(nil)
