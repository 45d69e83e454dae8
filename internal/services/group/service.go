package group

import (
	"context"
	"fmt"

	"conclave/internal/domain"
)

// Service applies membership changes optimistically: the local merge
// happens before fan-out and is never rolled back. A failed fan-out
// leaves us ahead of the group until the next commit reaches everyone.
type Service struct {
	ids    domain.IdentityStore
	engine domain.GroupEngine
	relay  domain.RelayClient
}

// New constructs a group service with the given store, engine, and
// relay client.
func New(ids domain.IdentityStore, engine domain.GroupEngine, relay domain.RelayClient) *Service {
	return &Service{ids: ids, engine: engine, relay: relay}
}

// Create makes a new group with the local identity as its only member.
// Nothing is sent; there is no one to tell.
func (s *Service) Create(ctx context.Context) (domain.GroupID, error) {
	if _, err := s.ids.LoadIdentity(); err != nil {
		return domain.GroupID{}, err
	}
	group := domain.NewGroupID()
	if err := s.engine.InitGroup(group); err != nil {
		return domain.GroupID{}, err
	}
	return group, nil
}

// Update rotates our leaf key and sends the commit to the rest of the
// group.
func (s *Service) Update(ctx context.Context, group domain.GroupID) error {
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}
	members, err := s.engine.Members(group)
	if err != nil {
		return err
	}

	commit, err := s.engine.SelfUpdate(group)
	if err != nil {
		return err
	}
	if err := s.engine.MergeCommit(group); err != nil {
		return err
	}
	return s.fanOut(ctx, id.Name, exclude(members, id.Name), commit)
}

// Add fetches member's key package from the directory, re-validates
// it, and commits the add. The commit goes to members who predate the
// add; the welcome goes to the new member only.
func (s *Service) Add(ctx context.Context, group domain.GroupID, member string) error {
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}

	pkg, err := s.relay.FetchKeyPackage(ctx, member)
	if err != nil {
		return err
	}
	// The directory checked the package at upload; check again rather
	// than trust it.
	if err := s.engine.ValidateKeyPackage(member, pkg); err != nil {
		return err
	}

	members, err := s.engine.Members(group)
	if err != nil {
		return err
	}

	commit, welcome, err := s.engine.AddMembers(group, [][]byte{pkg})
	if err != nil {
		return err
	}
	if err := s.engine.MergeCommit(group); err != nil {
		return err
	}

	if err := s.fanOut(ctx, id.Name, exclude(members, id.Name), commit); err != nil {
		return err
	}
	if _, err := s.relay.SendMessage(ctx, id.Name, []string{member}, welcome); err != nil {
		return fmt.Errorf("send welcome to %s: %w", member, err)
	}
	return nil
}

// Remove commits member's removal and tells the remaining members.
// The removed member is not told; their copy of the group dies with
// their next failed decrypt or a later welcome.
func (s *Service) Remove(ctx context.Context, group domain.GroupID, member string) error {
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}

	commit, welcome, err := s.engine.RemoveMembers(group, []string{member})
	if err != nil {
		return err
	}
	if welcome != nil {
		return fmt.Errorf("removal of %s produced a welcome: %w", member, domain.ErrProtocolViolation)
	}
	if err := s.engine.MergeCommit(group); err != nil {
		return err
	}

	members, err := s.engine.Members(group)
	if err != nil {
		return err
	}
	return s.fanOut(ctx, id.Name, exclude(members, id.Name), commit)
}

// Members lists the group roster.
func (s *Service) Members(group domain.GroupID) ([]string, error) {
	return s.engine.Members(group)
}

// fanOut sends frame to recipients, skipping the relay call when there
// is nobody to tell.
func (s *Service) fanOut(ctx context.Context, sender string, recipients []string, frame []byte) error {
	if len(recipients) == 0 {
		return nil
	}
	if _, err := s.relay.SendMessage(ctx, sender, recipients, frame); err != nil {
		return fmt.Errorf("fan out commit: %w", err)
	}
	return nil
}

func exclude(members []string, name string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != name {
			out = append(out, m)
		}
	}
	return out
}

// Compile-time assertion that Service implements domain.GroupService.
var _ domain.GroupService = (*Service)(nil)
