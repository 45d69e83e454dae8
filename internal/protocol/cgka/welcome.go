package cgka

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

// welcomeSecret carries the epoch secret to one newly added member,
// sealed to the init key of the key package they registered.
type welcomeSecret struct {
	Index     uint32
	Ephemeral domain.X25519Public
	Box       []byte
}

// welcomeBody gives a newcomer everything needed to stand up group
// state at Epoch without having seen any prior commit.
type welcomeBody struct {
	Epoch     uint64
	Sender    uint32
	Roster    []member
	NextIndex uint32
	Secrets   []welcomeSecret
	Signature []byte
}

type welcomeTBS struct {
	Group     []byte
	Epoch     uint64
	Sender    uint32
	Roster    []member
	NextIndex uint32
	Secrets   []welcomeSecret
}

func welcomeSignedBytes(group domain.GroupID, body welcomeBody) ([]byte, error) {
	return cbor.Marshal(welcomeTBS{
		Group:     group.Slice(),
		Epoch:     body.Epoch,
		Sender:    body.Sender,
		Roster:    body.Roster,
		NextIndex: body.NextIndex,
		Secrets:   body.Secrets,
	})
}

// buildWelcome seals secret to each newcomer's init key and frames the
// post-commit roster for them.
func buildWelcome(st *groupState, id domain.Identity, adds []member, packages []keyPackage, secret []byte) ([]byte, error) {
	epoch := st.Epoch + 1
	roster := make([]member, 0, len(st.Members)+len(adds))
	roster = append(roster, st.Members...)
	roster = append(roster, adds...)

	var sealed []welcomeSecret
	for i, add := range adds {
		sb, err := crypto.Seal(packages[i].InitKey, secret, frameAD("welcome", st.Group, epoch, add.Index))
		if err != nil {
			return nil, fmt.Errorf("seal welcome secret for %s: %w", add.Credential.Identity, err)
		}
		sealed = append(sealed, welcomeSecret{Index: add.Index, Ephemeral: sb.Ephemeral, Box: sb.Box})
	}

	body := welcomeBody{
		Epoch:     epoch,
		Sender:    st.SelfIndex,
		Roster:    roster,
		NextIndex: st.NextIndex + uint32(len(adds)),
		Secrets:   sealed,
	}
	tbs, err := welcomeSignedBytes(st.Group, body)
	if err != nil {
		return nil, err
	}
	body.Signature = crypto.SignEd25519(id.SigningKey, tbs)
	return encodeFrame(kindWelcome, st.Group.Slice(), body)
}

// JoinFromWelcome derives fresh group state from a welcome. A welcome
// for a group we already track replaces local state only when it is
// ahead of it; anything else is domain.ErrStaleEpoch.
func (e *Engine) JoinFromWelcome(welcome []byte) (domain.GroupID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.identity()
	if err != nil {
		return domain.GroupID{}, err
	}
	f, err := decodeFrame(welcome)
	if err != nil {
		return domain.GroupID{}, err
	}
	if f.Kind != kindWelcome {
		return domain.GroupID{}, fmt.Errorf("frame kind %d is not a welcome", f.Kind)
	}
	group, err := groupFromFrame(f)
	if err != nil {
		return domain.GroupID{}, err
	}
	var body welcomeBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return domain.GroupID{}, fmt.Errorf("decode welcome: %w", err)
	}

	var mine *member
	for i := range body.Roster {
		if body.Roster[i].Credential.Identity == id.Name {
			mine = &body.Roster[i]
			break
		}
	}
	if mine == nil {
		return domain.GroupID{}, fmt.Errorf("welcome for group %s does not include us", group)
	}
	if mine.Credential.VerifyKey != id.Credential.VerifyKey {
		return domain.GroupID{}, fmt.Errorf("welcome for group %s names us with a foreign credential", group)
	}

	var sender *member
	for i := range body.Roster {
		if body.Roster[i].Index == body.Sender {
			sender = &body.Roster[i]
			break
		}
	}
	if sender == nil {
		return domain.GroupID{}, fmt.Errorf("welcome sender leaf %d missing from roster", body.Sender)
	}
	tbs, err := welcomeSignedBytes(group, body)
	if err != nil {
		return domain.GroupID{}, err
	}
	if !crypto.VerifyEd25519(sender.Credential.VerifyKey, tbs, body.Signature) {
		return domain.GroupID{}, fmt.Errorf("welcome signature from %s: %w", sender.Credential.Identity, domain.ErrProtocolViolation)
	}

	if st, err := e.loadState(group); err == nil {
		if body.Epoch <= st.Epoch {
			return domain.GroupID{}, fmt.Errorf("welcome at epoch %d behind local epoch %d: %w", body.Epoch, st.Epoch, domain.ErrStaleEpoch)
		}
	} else if !errors.Is(err, domain.ErrGroupNotFound) {
		return domain.GroupID{}, err
	}

	initPriv, err := e.states.LoadInitKey()
	if err != nil {
		return domain.GroupID{}, fmt.Errorf("load init key: %w", err)
	}
	var sealed *welcomeSecret
	for i := range body.Secrets {
		if body.Secrets[i].Index == mine.Index {
			sealed = &body.Secrets[i]
			break
		}
	}
	if sealed == nil {
		return domain.GroupID{}, fmt.Errorf("welcome carries no secret for this member: %w", domain.ErrProtocolViolation)
	}
	secret, err := crypto.Open(initPriv, crypto.SealedBox{Ephemeral: sealed.Ephemeral, Box: sealed.Box}, frameAD("welcome", group, body.Epoch, mine.Index))
	if err != nil {
		return domain.GroupID{}, fmt.Errorf("open welcome secret: %w", err)
	}

	st := &groupState{
		Group:     group,
		Epoch:     body.Epoch,
		Members:   body.Roster,
		NextIndex: body.NextIndex,
		SelfIndex: mine.Index,
		LeafPriv:  initPriv,
	}
	st.setSecret(body.Epoch, secret)
	if err := e.saveState(st); err != nil {
		return domain.GroupID{}, err
	}
	return group, nil
}
