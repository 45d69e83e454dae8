package cgka

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"conclave/internal/domain"
	"conclave/internal/util/memzero"
)

// StateStore is the engine's storage contract: opaque group snapshots
// keyed by group id, plus the key-package init key retained between
// registration and a later welcome.
type StateStore interface {
	SaveGroup(group domain.GroupID, state []byte) error
	LoadGroup(group domain.GroupID) ([]byte, error) // domain.ErrGroupNotFound when absent
	DeleteGroup(group domain.GroupID) error

	SaveInitKey(priv domain.X25519Private) error
	LoadInitKey() (domain.X25519Private, error)
}

// secretWindow bounds how many past epoch secrets a member retains, so
// application traffic still in flight across a recent commit decrypts.
const secretWindow = 32

// member is one leaf of the group roster.
type member struct {
	Index      uint32
	Credential domain.Credential
	LeafKey    domain.X25519Public
}

// groupState is the per-group snapshot. Exported fields persist through
// the CBOR codec; pending lives only until the commit that staged it is
// merged.
type groupState struct {
	Group     domain.GroupID
	Epoch     uint64
	Members   []member
	NextIndex uint32
	SelfIndex uint32
	LeafPriv  domain.X25519Private
	Secrets   map[uint64][]byte
	Proposals [][]byte

	pending *pendingCommit
}

// pendingCommit is the staged outcome of a self-initiated commit,
// applied by MergeCommit.
type pendingCommit struct {
	epoch     uint64
	secret    []byte
	members   []member
	nextIndex uint32
	leafPriv  domain.X25519Private
	rotated   bool
}

func (st *groupState) self() (member, bool) {
	return st.byIndex(st.SelfIndex)
}

func (st *groupState) byIndex(i uint32) (member, bool) {
	for _, m := range st.Members {
		if m.Index == i {
			return m, true
		}
	}
	return member{}, false
}

func (st *groupState) byIdentity(name string) (member, bool) {
	for _, m := range st.Members {
		if m.Credential.Identity == name {
			return m, true
		}
	}
	return member{}, false
}

func (st *groupState) identities() []string {
	out := make([]string, 0, len(st.Members))
	for _, m := range st.Members {
		out = append(out, m.Credential.Identity)
	}
	return out
}

func (st *groupState) secret(epoch uint64) ([]byte, bool) {
	s, ok := st.Secrets[epoch]
	return s, ok
}

// setSecret records the secret for epoch and wipes everything that has
// fallen out of the retention window.
func (st *groupState) setSecret(epoch uint64, secret []byte) {
	if st.Secrets == nil {
		st.Secrets = make(map[uint64][]byte)
	}
	st.Secrets[epoch] = secret
	for e, s := range st.Secrets {
		if e+secretWindow <= epoch {
			memzero.Zero(s)
			delete(st.Secrets, e)
		}
	}
}

func marshalState(st *groupState) ([]byte, error) {
	raw, err := cbor.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode group state: %w", err)
	}
	return raw, nil
}

func unmarshalState(raw []byte) (*groupState, error) {
	var st groupState
	if err := cbor.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode group state: %w", err)
	}
	return &st, nil
}
