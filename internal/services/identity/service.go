package identity

import (
	"context"
	"fmt"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

// maxNameLength bounds identity names; they travel in URLs and
// credentials.
const maxNameLength = 64

// Service registers the local identity.
//
// High-level flow:
//   - Generate an Ed25519 signing key and derive the credential.
//   - Persist the identity; a second registration is refused.
//   - Build a last-resort key package and publish it to the directory.
type Service struct {
	ids    domain.IdentityStore
	engine domain.GroupEngine
	relay  domain.RelayClient
}

// New constructs an identity service with the given store, engine, and
// relay client.
func New(ids domain.IdentityStore, engine domain.GroupEngine, relay domain.RelayClient) *Service {
	return &Service{ids: ids, engine: engine, relay: relay}
}

// Register creates and publishes the identity for name.
func (s *Service) Register(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return err
	}
	id := domain.Identity{
		Name:       name,
		SigningKey: priv,
		Credential: domain.Credential{Identity: name, VerifyKey: pub},
	}
	if err := s.ids.SaveIdentity(id); err != nil {
		return err
	}

	pkg, err := s.engine.GenerateKeyPackage()
	if err != nil {
		return err
	}
	if _, err := s.relay.UploadKeyPackage(ctx, name, pkg); err != nil {
		return fmt.Errorf("publish key package: %w", err)
	}
	return nil
}

// validName enforces a basic naming policy.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("identity name required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("identity name longer than %d characters", maxNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("identity name contains %q; use letters, digits, '.', '_' or '-'", r)
		}
	}
	return nil
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
