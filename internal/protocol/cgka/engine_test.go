package cgka

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

type memIdentityStore struct {
	id  domain.Identity
	set bool
}

func (s *memIdentityStore) SaveIdentity(id domain.Identity) error {
	if s.set {
		return domain.ErrAlreadyRegistered
	}
	s.id, s.set = id, true
	return nil
}

func (s *memIdentityStore) LoadIdentity() (domain.Identity, error) {
	if !s.set {
		return domain.Identity{}, domain.ErrNotRegistered
	}
	return s.id, nil
}

type memStateStore struct {
	groups map[domain.GroupID][]byte
	init   domain.X25519Private
	hasKey bool
}

func newMemStateStore() *memStateStore {
	return &memStateStore{groups: make(map[domain.GroupID][]byte)}
}

func (s *memStateStore) SaveGroup(g domain.GroupID, b []byte) error {
	s.groups[g] = append([]byte(nil), b...)
	return nil
}

func (s *memStateStore) LoadGroup(g domain.GroupID) ([]byte, error) {
	b, ok := s.groups[g]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *memStateStore) DeleteGroup(g domain.GroupID) error {
	delete(s.groups, g)
	return nil
}

func (s *memStateStore) SaveInitKey(k domain.X25519Private) error {
	s.init, s.hasKey = k, true
	return nil
}

func (s *memStateStore) LoadInitKey() (domain.X25519Private, error) {
	if !s.hasKey {
		return domain.X25519Private{}, errors.New("no init key")
	}
	return s.init, nil
}

type testMember struct {
	name   string
	id     domain.Identity
	ids    *memIdentityStore
	states *memStateStore
	engine *Engine
}

func newTestMember(t *testing.T, name string) *testMember {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	id := domain.Identity{
		Name:       name,
		SigningKey: priv,
		Credential: domain.Credential{Identity: name, VerifyKey: pub},
	}
	ids := &memIdentityStore{}
	require.NoError(t, ids.SaveIdentity(id))
	states := newMemStateStore()
	return &testMember{name: name, id: id, ids: ids, states: states, engine: New(ids, states)}
}

// addToGroup runs the full add flow: package, commit, merge, join.
func addToGroup(t *testing.T, owner *testMember, group domain.GroupID, joiners ...*testMember) {
	t.Helper()
	packages := make([][]byte, 0, len(joiners))
	for _, j := range joiners {
		kp, err := j.engine.GenerateKeyPackage()
		require.NoError(t, err)
		require.NoError(t, owner.engine.ValidateKeyPackage(j.name, kp))
		packages = append(packages, kp)
	}
	commit, welcome, err := owner.engine.AddMembers(group, packages)
	require.NoError(t, err)
	require.NotEmpty(t, commit)
	require.NotEmpty(t, welcome)
	require.NoError(t, owner.engine.MergeCommit(group))
	for _, j := range joiners {
		joined, err := j.engine.JoinFromWelcome(welcome)
		require.NoError(t, err)
		require.Equal(t, group, joined)
	}
}

func TestAddJoinAndExchangeMessages(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	members, err := bob.engine.Members(group)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	ct, err := alice.engine.Encrypt(group, []byte("hi bob"))
	require.NoError(t, err)
	ev, err := bob.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, domain.KindApplication, ev.Kind)
	require.Equal(t, "alice", ev.Sender)
	require.Equal(t, []byte("hi bob"), ev.Plaintext)

	ct, err = bob.engine.Encrypt(group, []byte("hi alice"))
	require.NoError(t, err)
	ev, err = alice.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, "bob", ev.Sender)
	require.Equal(t, []byte("hi alice"), ev.Plaintext)
}

func TestMultiAddSharesOneWelcome(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	carol := newTestMember(t, "carol")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob, carol)

	for _, m := range []*testMember{alice, bob, carol} {
		members, err := m.engine.Members(group)
		require.NoError(t, err)
		require.Equal(t, []string{"alice", "bob", "carol"}, members)
	}

	ct, err := carol.engine.Encrypt(group, []byte("hello all"))
	require.NoError(t, err)
	for _, m := range []*testMember{alice, bob} {
		ev, err := m.engine.ProcessIncoming(ct)
		require.NoError(t, err)
		require.Equal(t, "carol", ev.Sender)
		require.Equal(t, []byte("hello all"), ev.Plaintext)
	}
}

func TestOperationsRequireRegistration(t *testing.T) {
	e := New(&memIdentityStore{}, newMemStateStore())

	_, err := e.GenerateKeyPackage()
	require.ErrorIs(t, err, domain.ErrNotRegistered)
	require.ErrorIs(t, e.InitGroup(domain.NewGroupID()), domain.ErrNotRegistered)
	_, _, err = e.AddMembers(domain.NewGroupID(), nil)
	require.ErrorIs(t, err, domain.ErrNotRegistered)
	_, err = e.Encrypt(domain.NewGroupID(), []byte("x"))
	require.ErrorIs(t, err, domain.ErrNotRegistered)
	_, err = e.ProcessIncoming([]byte("junk"))
	require.ErrorIs(t, err, domain.ErrNotRegistered)
}

func TestAddDuplicateMemberLeavesStateUntouched(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	kp, err := bob.engine.GenerateKeyPackage()
	require.NoError(t, err)
	_, _, err = alice.engine.AddMembers(group, [][]byte{kp})
	require.ErrorIs(t, err, domain.ErrMemberExists)

	st := alice.engine.cache[group]
	require.NotNil(t, st)
	require.Nil(t, st.pending)
	require.EqualValues(t, 1, st.Epoch)

	members, err := alice.engine.Members(group)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)
}

func TestRemoveMemberProducesNoWelcome(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	carol := newTestMember(t, "carol")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob, carol)

	commit, welcome, err := alice.engine.RemoveMembers(group, []string{"bob"})
	require.NoError(t, err)
	require.NotEmpty(t, commit)
	require.Nil(t, welcome)
	require.NoError(t, alice.engine.MergeCommit(group))

	ev, err := carol.engine.ProcessIncoming(commit)
	require.NoError(t, err)
	require.Equal(t, domain.KindCommit, ev.Kind)
	require.False(t, ev.Removed)

	ev, err = bob.engine.ProcessIncoming(commit)
	require.NoError(t, err)
	require.True(t, ev.Removed)

	// Bob's copy of the group is gone.
	_, err = bob.engine.Members(group)
	require.ErrorIs(t, err, domain.ErrGroupNotFound)
	_, err = bob.engine.Encrypt(group, []byte("x"))
	require.ErrorIs(t, err, domain.ErrGroupNotFound)

	ct, err := alice.engine.Encrypt(group, []byte("post-removal"))
	require.NoError(t, err)
	ev, err = carol.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("post-removal"), ev.Plaintext)
}

func TestRemoveUnknownMember(t *testing.T) {
	alice := newTestMember(t, "alice")
	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	_, _, err := alice.engine.RemoveMembers(group, []string{"nobody"})
	require.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestRemoveSelfRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	_, _, err := alice.engine.RemoveMembers(group, []string{"alice"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestSelfUpdateAdvancesEpoch(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	commit, err := alice.engine.SelfUpdate(group)
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))

	ev, err := bob.engine.ProcessIncoming(commit)
	require.NoError(t, err)
	require.Equal(t, domain.KindCommit, ev.Kind)
	require.EqualValues(t, 2, ev.Epoch)

	ct, err := bob.engine.Encrypt(group, []byte("fresh epoch"))
	require.NoError(t, err)
	ev, err = alice.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("fresh epoch"), ev.Plaintext)
	require.EqualValues(t, 2, ev.Epoch)
}

func TestStaleCommitIsNoOp(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	commit, err := alice.engine.SelfUpdate(group)
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))

	_, err = bob.engine.ProcessIncoming(commit)
	require.NoError(t, err)

	_, err = bob.engine.ProcessIncoming(commit)
	require.ErrorIs(t, err, domain.ErrStaleEpoch)
	require.EqualValues(t, 2, bob.engine.cache[group].Epoch)
}

func TestCommitSkippingEpochsRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	first, err := alice.engine.SelfUpdate(group)
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))
	second, err := alice.engine.SelfUpdate(group)
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))

	_, err = bob.engine.ProcessIncoming(second)
	require.ErrorIs(t, err, domain.ErrProtocolViolation)

	_, err = bob.engine.ProcessIncoming(first)
	require.NoError(t, err)
	_, err = bob.engine.ProcessIncoming(second)
	require.NoError(t, err)
}

func TestDecryptAcrossRecentCommit(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	ct, err := alice.engine.Encrypt(group, []byte("sent before the commit"))
	require.NoError(t, err)

	commit, err := alice.engine.SelfUpdate(group)
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))
	_, err = bob.engine.ProcessIncoming(commit)
	require.NoError(t, err)

	ev, err := bob.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("sent before the commit"), ev.Plaintext)
	require.EqualValues(t, 1, ev.Epoch)
}

func TestFrameForUnknownGroupDropped(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	ct, err := alice.engine.Encrypt(group, []byte("private"))
	require.NoError(t, err)

	_, err = bob.engine.ProcessIncoming(ct)
	require.ErrorIs(t, err, domain.ErrUnknownSender)
}

func TestMessageFromForeignLeafDropped(t *testing.T) {
	alice := newTestMember(t, "alice")
	mallory := newTestMember(t, "mallory")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	body := applicationBody{Epoch: 0, Sender: 99, Nonce: make([]byte, 12), Box: []byte("junk")}
	tbs, err := applicationSignedBytes(group, body)
	require.NoError(t, err)
	body.Signature = crypto.SignEd25519(mallory.id.SigningKey, tbs)
	raw, err := encodeFrame(kindApplication, group.Slice(), body)
	require.NoError(t, err)

	_, err = alice.engine.ProcessIncoming(raw)
	require.ErrorIs(t, err, domain.ErrUnknownSender)
}

func TestGroupInfoFrameRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	raw, err := encodeFrame(kindGroupInfo, group.Slice(), []byte{1})
	require.NoError(t, err)

	_, err = alice.engine.ProcessIncoming(raw)
	require.ErrorIs(t, err, domain.ErrProtocolViolation)
}

func TestExternalJoinProposalStaged(t *testing.T) {
	alice := newTestMember(t, "alice")
	mallory := newTestMember(t, "mallory")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	body := proposalBody{Epoch: 0, Credential: mallory.id.Credential, Action: proposalExternalJoin}
	tbs, err := proposalSignedBytes(group, body)
	require.NoError(t, err)
	body.Signature = crypto.SignEd25519(mallory.id.SigningKey, tbs)
	raw, err := encodeFrame(kindProposal, group.Slice(), body)
	require.NoError(t, err)

	ev, err := alice.engine.ProcessIncoming(raw)
	require.NoError(t, err)
	require.Equal(t, domain.KindProposal, ev.Kind)
	require.Equal(t, "mallory", ev.Sender)
	require.Len(t, alice.engine.cache[group].Proposals, 1)
}

func TestNonMemberProposalDropped(t *testing.T) {
	alice := newTestMember(t, "alice")
	mallory := newTestMember(t, "mallory")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	body := proposalBody{Epoch: 0, Credential: mallory.id.Credential, Action: 42}
	tbs, err := proposalSignedBytes(group, body)
	require.NoError(t, err)
	body.Signature = crypto.SignEd25519(mallory.id.SigningKey, tbs)
	raw, err := encodeFrame(kindProposal, group.Slice(), body)
	require.NoError(t, err)

	_, err = alice.engine.ProcessIncoming(raw)
	require.ErrorIs(t, err, domain.ErrUnknownSender)
}

func TestRejoinAfterRemoval(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	kp, err := bob.engine.GenerateKeyPackage()
	require.NoError(t, err)
	commit, welcome, err := alice.engine.AddMembers(group, [][]byte{kp})
	require.NoError(t, err)
	require.NotEmpty(t, commit)
	require.NoError(t, alice.engine.MergeCommit(group))
	_, err = bob.engine.JoinFromWelcome(welcome)
	require.NoError(t, err)

	removal, _, err := alice.engine.RemoveMembers(group, []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))
	ev, err := bob.engine.ProcessIncoming(removal)
	require.NoError(t, err)
	require.True(t, ev.Removed)

	// The directory hands out the same last-resort package again.
	_, welcome, err = alice.engine.AddMembers(group, [][]byte{kp})
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))
	_, err = bob.engine.JoinFromWelcome(welcome)
	require.NoError(t, err)

	members, err := bob.engine.Members(group)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	ct, err := bob.engine.Encrypt(group, []byte("back again"))
	require.NoError(t, err)
	got, err := alice.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("back again"), got.Plaintext)
}

func TestRejoinWithoutSeeingRemoval(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	kp, err := bob.engine.GenerateKeyPackage()
	require.NoError(t, err)
	_, welcome, err := alice.engine.AddMembers(group, [][]byte{kp})
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))
	_, err = bob.engine.JoinFromWelcome(welcome)
	require.NoError(t, err)

	// Bob is removed but never receives the removal commit, so his
	// state is frozen at the epoch of the add.
	_, _, err = alice.engine.RemoveMembers(group, []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))

	_, welcome, err = alice.engine.AddMembers(group, [][]byte{kp})
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))

	_, err = bob.engine.JoinFromWelcome(welcome)
	require.NoError(t, err)

	ct, err := alice.engine.Encrypt(group, []byte("welcome back"))
	require.NoError(t, err)
	ev, err := bob.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("welcome back"), ev.Plaintext)
}

func TestStaleWelcomeRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	kp, err := bob.engine.GenerateKeyPackage()
	require.NoError(t, err)
	_, welcome, err := alice.engine.AddMembers(group, [][]byte{kp})
	require.NoError(t, err)
	require.NoError(t, alice.engine.MergeCommit(group))

	_, err = bob.engine.JoinFromWelcome(welcome)
	require.NoError(t, err)
	_, err = bob.engine.JoinFromWelcome(welcome)
	require.ErrorIs(t, err, domain.ErrStaleEpoch)
}

func TestValidateKeyPackage(t *testing.T) {
	bob := newTestMember(t, "bob")
	kp, err := bob.engine.GenerateKeyPackage()
	require.NoError(t, err)

	v := Validator{}
	require.NoError(t, v.Validate("bob", kp))
	require.ErrorIs(t, v.Validate("mallory", kp), domain.ErrInvalidKeyPackage)
	require.ErrorIs(t, v.Validate("bob", []byte("junk")), domain.ErrInvalidKeyPackage)

	tampered := append([]byte(nil), kp...)
	tampered[len(tampered)-1] ^= 0x01
	require.ErrorIs(t, v.Validate("bob", tampered), domain.ErrInvalidKeyPackage)
}

func TestNonLastResortPackageRejected(t *testing.T) {
	bob := newTestMember(t, "bob")
	_, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	kp := keyPackage{
		Version:    protocolVersion,
		Credential: bob.id.Credential,
		InitKey:    pub,
		LastResort: false,
		CreatedAt:  time.Now().Unix(),
	}
	tbs, err := kp.signedBytes()
	require.NoError(t, err)
	kp.Signature = crypto.SignEd25519(bob.id.SigningKey, tbs)
	raw, err := encodeFrame(kindKeyPackage, nil, kp)
	require.NoError(t, err)

	err = Validator{}.Validate("bob", raw)
	require.ErrorIs(t, err, domain.ErrInvalidKeyPackage)
	require.Contains(t, err.Error(), "last-resort")
}

func TestInspectKinds(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))

	kp, err := bob.engine.GenerateKeyPackage()
	require.NoError(t, err)
	kind, g, err := alice.engine.Inspect(kp)
	require.NoError(t, err)
	require.Equal(t, domain.KindKeyPackage, kind)
	require.True(t, g.IsZero())

	commit, welcome, err := alice.engine.AddMembers(group, [][]byte{kp})
	require.NoError(t, err)

	kind, g, err = alice.engine.Inspect(commit)
	require.NoError(t, err)
	require.Equal(t, domain.KindCommit, kind)
	require.Equal(t, group, g)

	kind, _, err = alice.engine.Inspect(welcome)
	require.NoError(t, err)
	require.Equal(t, domain.KindWelcome, kind)

	require.NoError(t, alice.engine.MergeCommit(group))
	ct, err := alice.engine.Encrypt(group, []byte("x"))
	require.NoError(t, err)
	kind, g, err = alice.engine.Inspect(ct)
	require.NoError(t, err)
	require.Equal(t, domain.KindApplication, kind)
	require.Equal(t, group, g)

	_, _, err = alice.engine.Inspect([]byte("junk"))
	require.Error(t, err)
}

func TestStateSurvivesRestart(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")

	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	addToGroup(t, alice, group, bob)

	restarted := New(alice.ids, alice.states)
	members, err := restarted.Members(group)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	ct, err := restarted.Encrypt(group, []byte("still here"))
	require.NoError(t, err)
	ev, err := bob.engine.ProcessIncoming(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("still here"), ev.Plaintext)
}

func TestInitGroupTwiceRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	group := domain.NewGroupID()
	require.NoError(t, alice.engine.InitGroup(group))
	require.Error(t, alice.engine.InitGroup(group))
}
