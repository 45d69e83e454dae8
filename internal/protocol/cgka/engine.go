package cgka

import (
	"errors"
	"fmt"
	"sync"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/util/memzero"
)

// Engine drives the group protocol for one local identity. Every state
// change writes through to the StateStore, so a restart resumes exactly
// where the last operation left off.
type Engine struct {
	ids    domain.IdentityStore
	states StateStore

	mu    sync.Mutex
	cache map[domain.GroupID]*groupState
}

var _ domain.GroupEngine = (*Engine)(nil)

// New returns an engine bound to the identity persisted in ids.
func New(ids domain.IdentityStore, states StateStore) *Engine {
	return &Engine{
		ids:    ids,
		states: states,
		cache:  make(map[domain.GroupID]*groupState),
	}
}

// identity loads the local identity. Before Register has run this is
// domain.ErrNotRegistered.
func (e *Engine) identity() (domain.Identity, error) {
	return e.ids.LoadIdentity()
}

func (e *Engine) loadState(group domain.GroupID) (*groupState, error) {
	if st, ok := e.cache[group]; ok {
		return st, nil
	}
	raw, err := e.states.LoadGroup(group)
	if err != nil {
		return nil, err
	}
	st, err := unmarshalState(raw)
	if err != nil {
		return nil, err
	}
	e.cache[group] = st
	return st, nil
}

func (e *Engine) saveState(st *groupState) error {
	raw, err := marshalState(st)
	if err != nil {
		return err
	}
	if err := e.states.SaveGroup(st.Group, raw); err != nil {
		return err
	}
	e.cache[st.Group] = st
	return nil
}

// dropStateLocked wipes and forgets a group once our membership ends.
func (e *Engine) dropStateLocked(st *groupState) error {
	for _, s := range st.Secrets {
		memzero.Zero(s)
	}
	memzero.Zero(st.LeafPriv[:])
	delete(e.cache, st.Group)
	return e.states.DeleteGroup(st.Group)
}

// InitGroup creates group with the local identity as its only member at
// epoch zero.
func (e *Engine) InitGroup(group domain.GroupID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.identity()
	if err != nil {
		return err
	}
	if _, err := e.loadState(group); err == nil {
		return fmt.Errorf("group %s already exists", group)
	} else if !errors.Is(err, domain.ErrGroupNotFound) {
		return err
	}

	leafPriv, leafPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	st := &groupState{
		Group:     group,
		Members:   []member{{Index: 0, Credential: id.Credential, LeafKey: leafPub}},
		NextIndex: 1,
		SelfIndex: 0,
		LeafPriv:  leafPriv,
	}
	st.setSecret(0, secret)
	return e.saveState(st)
}

// SelfUpdate rotates the local leaf key and stages the next epoch. The
// returned commit fans out to the rest of the group; MergeCommit applies
// it locally.
func (e *Engine) SelfUpdate(group domain.GroupID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.identity()
	if err != nil {
		return nil, err
	}
	st, err := e.loadState(group)
	if err != nil {
		return nil, err
	}

	leafPriv, leafPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	commit, err := buildCommit(st, id, nil, nil, leafPub, secret)
	if err != nil {
		return nil, err
	}

	members := make([]member, len(st.Members))
	copy(members, st.Members)
	for i := range members {
		if members[i].Index == st.SelfIndex {
			members[i].LeafKey = leafPub
		}
	}
	st.pending = &pendingCommit{
		epoch:     st.Epoch + 1,
		secret:    secret,
		members:   members,
		nextIndex: st.NextIndex,
		leafPriv:  leafPriv,
		rotated:   true,
	}
	return commit, nil
}

// AddMembers stages adding the owners of keyPackages. It returns the
// commit for members who predate the add and the welcome for the
// newcomers; roster and epoch change only at MergeCommit.
func (e *Engine) AddMembers(group domain.GroupID, keyPackages [][]byte) ([]byte, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.identity()
	if err != nil {
		return nil, nil, err
	}
	st, err := e.loadState(group)
	if err != nil {
		return nil, nil, err
	}
	self, ok := st.self()
	if !ok {
		return nil, nil, fmt.Errorf("own leaf %d missing from group %s", st.SelfIndex, group)
	}

	adds := make([]member, 0, len(keyPackages))
	packages := make([]keyPackage, 0, len(keyPackages))
	next := st.NextIndex
	for _, raw := range keyPackages {
		kp, err := parseKeyPackage(raw)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := st.byIdentity(kp.Credential.Identity); ok {
			return nil, nil, fmt.Errorf("%s is already in group %s: %w", kp.Credential.Identity, group, domain.ErrMemberExists)
		}
		for _, a := range adds {
			if a.Credential.Identity == kp.Credential.Identity {
				return nil, nil, fmt.Errorf("%s added twice: %w", kp.Credential.Identity, domain.ErrMemberExists)
			}
		}
		adds = append(adds, member{Index: next, Credential: kp.Credential, LeafKey: kp.InitKey})
		packages = append(packages, kp)
		next++
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, nil, err
	}
	commit, err := buildCommit(st, id, adds, nil, self.LeafKey, secret)
	if err != nil {
		return nil, nil, err
	}
	welcome, err := buildWelcome(st, id, adds, packages, secret)
	if err != nil {
		return nil, nil, err
	}

	roster := make([]member, 0, len(st.Members)+len(adds))
	roster = append(roster, st.Members...)
	roster = append(roster, adds...)
	st.pending = &pendingCommit{
		epoch:     st.Epoch + 1,
		secret:    secret,
		members:   roster,
		nextIndex: next,
		leafPriv:  st.LeafPriv,
	}
	return commit, welcome, nil
}

// RemoveMembers stages removal of the named members. Removals never
// produce a welcome; the second return is always nil.
func (e *Engine) RemoveMembers(group domain.GroupID, members []string) ([]byte, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.identity()
	if err != nil {
		return nil, nil, err
	}
	st, err := e.loadState(group)
	if err != nil {
		return nil, nil, err
	}
	self, ok := st.self()
	if !ok {
		return nil, nil, fmt.Errorf("own leaf %d missing from group %s", st.SelfIndex, group)
	}

	removes := make([]uint32, 0, len(members))
	for _, name := range members {
		m, ok := st.byIdentity(name)
		if !ok {
			return nil, nil, fmt.Errorf("%s is not in group %s: %w", name, group, domain.ErrMemberNotFound)
		}
		if m.Index == st.SelfIndex {
			return nil, nil, fmt.Errorf("cannot remove own membership of group %s", group)
		}
		removes = append(removes, m.Index)
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, nil, err
	}
	commit, err := buildCommit(st, id, nil, removes, self.LeafKey, secret)
	if err != nil {
		return nil, nil, err
	}

	keep := make([]member, 0, len(st.Members)-len(removes))
	for _, m := range st.Members {
		if !containsIndex(removes, m.Index) {
			keep = append(keep, m)
		}
	}
	st.pending = &pendingCommit{
		epoch:     st.Epoch + 1,
		secret:    secret,
		members:   keep,
		nextIndex: st.NextIndex,
		leafPriv:  st.LeafPriv,
	}
	return commit, nil, nil
}

// MergeCommit applies the staged commit for group. At most one commit
// is staged at a time; callers merge before building another.
func (e *Engine) MergeCommit(group domain.GroupID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.identity(); err != nil {
		return err
	}
	st, err := e.loadState(group)
	if err != nil {
		return err
	}
	p := st.pending
	if p == nil {
		return fmt.Errorf("no staged commit for group %s", group)
	}
	st.Epoch = p.epoch
	st.Members = p.members
	st.NextIndex = p.nextIndex
	if p.rotated {
		st.LeafPriv = p.leafPriv
	}
	st.setSecret(p.epoch, p.secret)
	st.Proposals = nil
	st.pending = nil
	return e.saveState(st)
}

// Inspect classifies a frame without touching state, so callers can
// route welcomes and reject kinds that never travel on the stream.
func (e *Engine) Inspect(raw []byte) (domain.MessageKind, domain.GroupID, error) {
	f, err := decodeFrame(raw)
	if err != nil {
		return domain.KindUnknown, domain.GroupID{}, err
	}
	var group domain.GroupID
	if len(f.Group) != 0 {
		if group, err = groupFromFrame(f); err != nil {
			return domain.KindUnknown, domain.GroupID{}, err
		}
	}
	return domainKind(f.Kind), group, nil
}

// ProcessIncoming applies one application, proposal, or commit frame.
// Frames for groups we are not in surface domain.ErrUnknownSender so
// callers can drop them; welcomes go through JoinFromWelcome instead.
func (e *Engine) ProcessIncoming(raw []byte) (domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.identity(); err != nil {
		return domain.Event{}, err
	}
	f, err := decodeFrame(raw)
	if err != nil {
		return domain.Event{}, err
	}
	switch f.Kind {
	case kindApplication, kindProposal, kindCommit:
	case kindWelcome:
		return domain.Event{}, errors.New("welcome frames join via JoinFromWelcome")
	default:
		return domain.Event{}, fmt.Errorf("frame kind %d on the message stream: %w", f.Kind, domain.ErrProtocolViolation)
	}

	group, err := groupFromFrame(f)
	if err != nil {
		return domain.Event{}, err
	}
	st, err := e.loadState(group)
	if errors.Is(err, domain.ErrGroupNotFound) {
		return domain.Event{}, fmt.Errorf("frame for unknown group %s: %w", group, domain.ErrUnknownSender)
	}
	if err != nil {
		return domain.Event{}, err
	}

	switch f.Kind {
	case kindApplication:
		return e.applyApplication(st, f)
	case kindProposal:
		return e.applyProposal(st, f)
	default:
		return e.applyCommit(st, f)
	}
}

// Members lists the roster in leaf order.
func (e *Engine) Members(group domain.GroupID) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.identity(); err != nil {
		return nil, err
	}
	st, err := e.loadState(group)
	if err != nil {
		return nil, err
	}
	return st.identities(), nil
}
