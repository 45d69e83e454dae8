package app

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"conclave/internal/domain"
	"conclave/internal/protocol/cgka"
	"conclave/internal/relay"
	groupsvc "conclave/internal/services/group"
	identitysvc "conclave/internal/services/identity"
	messagesvc "conclave/internal/services/message"
	"conclave/internal/store"
)

// Wire bundles the store, engine, services, and relay client for the
// CLI.
type Wire struct {
	Identity domain.IdentityService
	Groups   domain.GroupService
	Messages domain.MessageService
	Relay    domain.RelayClient

	store *store.Store
}

// NewWire constructs the dependency graph from cfg. Each user gets
// their own state database under cfg.Home, so several identities can
// share a machine.
func NewWire(cfg Config) (*Wire, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("user name required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	dir := filepath.Join(cfg.Home, "state")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	st, err := store.Open(filepath.Join(dir, cfg.User+".db"))
	if err != nil {
		return nil, fmt.Errorf("open state for %s: %w", cfg.User, err)
	}

	engine := cgka.New(st, st)

	rc := relay.NewHTTP(cfg.RelayURL)
	if cfg.HTTP != nil {
		rc.HTTP = cfg.HTTP
	}

	return &Wire{
		Identity: identitysvc.New(st, engine, rc),
		Groups:   groupsvc.New(st, engine, rc),
		Messages: messagesvc.New(st, engine, rc, log),
		Relay:    rc,
		store:    st,
	}, nil
}

// Close releases the local state database.
func (w *Wire) Close() error { return w.store.Close() }
