package cgka

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

// applicationBody carries one ciphertext under the epoch secret. The
// nonce is random; the per-sender key already separates streams.
type applicationBody struct {
	Epoch     uint64
	Sender    uint32
	Nonce     []byte
	Box       []byte
	Signature []byte
}

type applicationTBS struct {
	Group  []byte
	Epoch  uint64
	Sender uint32
	Nonce  []byte
	Box    []byte
}

func applicationSignedBytes(group domain.GroupID, body applicationBody) ([]byte, error) {
	return cbor.Marshal(applicationTBS{
		Group:  group.Slice(),
		Epoch:  body.Epoch,
		Sender: body.Sender,
		Nonce:  body.Nonce,
		Box:    body.Box,
	})
}

// senderKey derives the per-sender message key for one epoch.
func senderKey(secret []byte, group domain.GroupID, epoch uint64, sender uint32) []byte {
	return crypto.DeriveKey(secret, frameAD("conclave-app-v1", group, epoch, sender), chacha20poly1305.KeySize)
}

// Encrypt seals plaintext to the group under the current epoch secret.
func (e *Engine) Encrypt(group domain.GroupID, plaintext []byte) ([]byte, error) {
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
	secret, ok := st.secret(st.Epoch)
	if !ok {
		return nil, fmt.Errorf("no secret for epoch %d", st.Epoch)
	}

	key := senderKey(secret, group, st.Epoch, st.SelfIndex)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	box := aead.Seal(nil, nonce, plaintext, frameAD("app", group, st.Epoch, st.SelfIndex))

	body := applicationBody{Epoch: st.Epoch, Sender: st.SelfIndex, Nonce: nonce, Box: box}
	tbs, err := applicationSignedBytes(group, body)
	if err != nil {
		return nil, err
	}
	body.Signature = crypto.SignEd25519(id.SigningKey, tbs)
	return encodeFrame(kindApplication, group.Slice(), body)
}

func (e *Engine) applyApplication(st *groupState, f frame) (domain.Event, error) {
	var body applicationBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return domain.Event{}, fmt.Errorf("decode application message: %w", err)
	}
	sender, ok := st.byIndex(body.Sender)
	if !ok {
		return domain.Event{}, fmt.Errorf("message from leaf %d outside group %s: %w", body.Sender, st.Group, domain.ErrUnknownSender)
	}
	tbs, err := applicationSignedBytes(st.Group, body)
	if err != nil {
		return domain.Event{}, err
	}
	if !crypto.VerifyEd25519(sender.Credential.VerifyKey, tbs, body.Signature) {
		return domain.Event{}, fmt.Errorf("message signature from %s: %w", sender.Credential.Identity, domain.ErrProtocolViolation)
	}

	secret, ok := st.secret(body.Epoch)
	if !ok {
		if body.Epoch > st.Epoch {
			return domain.Event{}, fmt.Errorf("message at future epoch %d, local epoch %d: %w", body.Epoch, st.Epoch, domain.ErrProtocolViolation)
		}
		return domain.Event{}, fmt.Errorf("epoch %d secret expired: %w", body.Epoch, domain.ErrStaleEpoch)
	}

	key := senderKey(secret, st.Group, body.Epoch, body.Sender)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return domain.Event{}, err
	}
	plaintext, err := aead.Open(nil, body.Nonce, body.Box, frameAD("app", st.Group, body.Epoch, body.Sender))
	if err != nil {
		return domain.Event{}, fmt.Errorf("decrypt message from %s: %w", sender.Credential.Identity, err)
	}
	return domain.Event{
		Kind:      domain.KindApplication,
		Group:     st.Group,
		Sender:    sender.Credential.Identity,
		Plaintext: plaintext,
		Epoch:     body.Epoch,
	}, nil
}

// Proposal actions. Only external join is produced in the wild; the
// rest travel inside commits.
const (
	proposalExternalJoin uint8 = 1
)

// proposalBody is self-certifying: the credential rides along so a
// proposer outside the group (external join) can still be verified.
type proposalBody struct {
	Epoch      uint64
	Credential domain.Credential
	Action     uint8
	Data       []byte
	Signature  []byte
}

type proposalTBS struct {
	Group      []byte
	Epoch      uint64
	Credential domain.Credential
	Action     uint8
	Data       []byte
}

func proposalSignedBytes(group domain.GroupID, body proposalBody) ([]byte, error) {
	return cbor.Marshal(proposalTBS{
		Group:      group.Slice(),
		Epoch:      body.Epoch,
		Credential: body.Credential,
		Action:     body.Action,
		Data:       body.Data,
	})
}

// applyProposal verifies and stages a proposal for the next commit.
func (e *Engine) applyProposal(st *groupState, f frame) (domain.Event, error) {
	var body proposalBody
	if err := cbor.Unmarshal(f.Body, &body); err != nil {
		return domain.Event{}, fmt.Errorf("decode proposal: %w", err)
	}
	tbs, err := proposalSignedBytes(st.Group, body)
	if err != nil {
		return domain.Event{}, err
	}
	if !crypto.VerifyEd25519(body.Credential.VerifyKey, tbs, body.Signature) {
		return domain.Event{}, fmt.Errorf("proposal signature from %s: %w", body.Credential.Identity, domain.ErrProtocolViolation)
	}
	if body.Action != proposalExternalJoin {
		if _, ok := st.byIdentity(body.Credential.Identity); !ok {
			return domain.Event{}, fmt.Errorf("proposal from %s outside group %s: %w", body.Credential.Identity, st.Group, domain.ErrUnknownSender)
		}
	}
	raw, err := cbor.Marshal(f)
	if err != nil {
		return domain.Event{}, err
	}
	st.Proposals = append(st.Proposals, raw)
	if err := e.saveState(st); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		Kind:   domain.KindProposal,
		Group:  st.Group,
		Sender: body.Credential.Identity,
		Epoch:  body.Epoch,
	}, nil
}

// randomSecret draws a fresh 32-byte epoch secret.
func randomSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generate epoch secret: %w", err)
	}
	return secret, nil
}
