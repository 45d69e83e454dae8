package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"conclave/internal/domain"
)

// SaveIdentity persists the local identity. A second registration is
// refused with domain.ErrAlreadyRegistered.
func (s *Store) SaveIdentity(id domain.Identity) error {
	raw, err := cbor.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIdentity)
		if b.Get(keyIdentity) != nil {
			return domain.ErrAlreadyRegistered
		}
		return b.Put(keyIdentity, raw)
	})
}

// LoadIdentity returns the local identity, or domain.ErrNotRegistered
// when register has not run yet.
func (s *Store) LoadIdentity() (domain.Identity, error) {
	var id domain.Identity
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketIdentity).Get(keyIdentity)
		if raw == nil {
			return domain.ErrNotRegistered
		}
		return cbor.Unmarshal(raw, &id)
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// Compile-time assertion that Store implements domain.IdentityStore.
var _ domain.IdentityStore = (*Store)(nil)
