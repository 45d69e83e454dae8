package cgka

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

// sealedSecret carries the next epoch secret to one continuing member,
// sealed to that member's current leaf key.
type sealedSecret struct {
	Index     uint32
	Ephemeral domain.X25519Public
	Box       []byte
}

// commitBody advances a group from the sender's epoch to Epoch. Adds
// carry fully assigned roster entries; Removes name leaf indexes.
// LeafKey is the sender's leaf after the commit.
type commitBody struct {
	Epoch     uint64
	Sender    uint32
	Adds      []member
	Removes   []uint32
	LeafKey   domain.X25519Public
	Secrets   []sealedSecret
	Signature []byte
}

type commitTBS struct {
	Group   []byte
	Epoch   uint64
	Sender  uint32
	Adds    []member
	Removes []uint32
	LeafKey domain.X25519Public
	Secrets []sealedSecret
}

func commitSignedBytes(group domain.GroupID, body commitBody) ([]byte, error) {
	return cbor.Marshal(commitTBS{
		Group:   group.Slice(),
		Epoch:   body.Epoch,
		Sender:  body.Sender,
		Adds:    body.Adds,
		Removes: body.Removes,
		LeafKey: body.LeafKey,
		Secrets: body.Secrets,
	})
}

// buildCommit seals secret to every member that stays in the group
// besides the sender, then signs and frames the commit.
func buildCommit(st *groupState, id domain.Identity, adds []member, removes []uint32, leafKey domain.X25519Public, secret []byte) ([]byte, error) {
	epoch := st.Epoch + 1
	var sealed []sealedSecret
	for _, m := range st.Members {
		if m.Index == st.SelfIndex || containsIndex(removes, m.Index) {
			continue
		}
		sb, err := crypto.Seal(m.LeafKey, secret, frameAD("commit", st.Group, epoch, m.Index))
		if err != nil {
			return nil, fmt.Errorf("seal epoch secret for %s: %w", m.Credential.Identity, err)
		}
		sealed = append(sealed, sealedSecret{Index: m.Index, Ephemeral: sb.Ephemeral, Box: sb.Box})
	}

	body := commitBody{
		Epoch:   epoch,
		Sender:  st.SelfIndex,
		Adds:    adds,
		Removes: removes,
		LeafKey: leafKey,
		Secrets: sealed,
	}
	tbs, err := commitSignedBytes(st.Group, body)
	if err != nil {
		return nil, err
	}
	body.Signature = crypto.SignEd25519(id.SigningKey, tbs)
	return encodeFrame(kindCommit, st.Group.Slice(), body)
}

// applyCommit merges a remote commit into st, advancing exactly one
// epoch. Stale commits are rejected with domain.ErrStaleEpoch and leave
// state untouched.
func (e *Engine) applyCommit(st *groupState, f frame) (domain.Event, error) {
	var body commitBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return domain.Event{}, fmt.Errorf("decode commit: %w", err)
	}
	sender, ok := st.byIndex(body.Sender)
	if !ok {
		return domain.Event{}, fmt.Errorf("commit from leaf %d of group %s: %w", body.Sender, st.Group, domain.ErrUnknownSender)
	}
	tbs, err := commitSignedBytes(st.Group, body)
	if err != nil {
		return domain.Event{}, err
	}
	if !crypto.VerifyEd25519(sender.Credential.VerifyKey, tbs, body.Signature) {
		return domain.Event{}, fmt.Errorf("commit signature from %s: %w", sender.Credential.Identity, domain.ErrProtocolViolation)
	}
	if body.Epoch <= st.Epoch {
		return domain.Event{}, fmt.Errorf("commit for epoch %d at epoch %d: %w", body.Epoch, st.Epoch, domain.ErrStaleEpoch)
	}
	if body.Epoch != st.Epoch+1 {
		return domain.Event{}, fmt.Errorf("commit skips from epoch %d to %d: %w", st.Epoch, body.Epoch, domain.ErrProtocolViolation)
	}

	// A commit that removes us ends our membership here; no secret in it
	// is addressed to us.
	if containsIndex(body.Removes, st.SelfIndex) {
		if err := e.dropStateLocked(st); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{Kind: domain.KindCommit, Group: st.Group, Epoch: body.Epoch, Removed: true}, nil
	}

	members := make([]member, 0, len(st.Members)+len(body.Adds))
	for _, m := range st.Members {
		if containsIndex(body.Removes, m.Index) {
			continue
		}
		if m.Index == body.Sender {
			m.LeafKey = body.LeafKey
		}
		members = append(members, m)
	}
	next := st.NextIndex
	for _, add := range body.Adds {
		if _, exists := st.byIdentity(add.Credential.Identity); exists {
			return domain.Event{}, fmt.Errorf("commit re-adds %s: %w", add.Credential.Identity, domain.ErrProtocolViolation)
		}
		members = append(members, add)
		if add.Index >= next {
			next = add.Index + 1
		}
	}

	var mine *sealedSecret
	for i := range body.Secrets {
		if body.Secrets[i].Index == st.SelfIndex {
			mine = &body.Secrets[i]
			break
		}
	}
	if mine == nil {
		return domain.Event{}, fmt.Errorf("commit carries no secret for this member: %w", domain.ErrProtocolViolation)
	}
	secret, err := crypto.Open(st.LeafPriv, crypto.SealedBox{Ephemeral: mine.Ephemeral, Box: mine.Box}, frameAD("commit", st.Group, body.Epoch, st.SelfIndex))
	if err != nil {
		return domain.Event{}, fmt.Errorf("open epoch secret: %w", err)
	}

	st.Members = members
	st.NextIndex = next
	st.Epoch = body.Epoch
	st.setSecret(body.Epoch, secret)
	st.Proposals = nil
	if err := e.saveState(st); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{Kind: domain.KindCommit, Group: st.Group, Epoch: body.Epoch}, nil
}

func containsIndex(list []uint32, i uint32) bool {
	for _, v := range list {
		if v == i {
			return true
		}
	}
	return false
}
