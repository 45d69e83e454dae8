package cgka

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

// keyPackage is the reusable onboarding bundle published to the
// directory at registration. LastResort marks it safe to hand out more
// than once; the directory refuses anything else.
type keyPackage struct {
	Version    uint16
	Credential domain.Credential
	InitKey    domain.X25519Public
	LastResort bool
	CreatedAt  int64
	Signature  []byte
}

type keyPackageTBS struct {
	Version    uint16
	Credential domain.Credential
	InitKey    domain.X25519Public
	LastResort bool
	CreatedAt  int64
}

func (kp keyPackage) signedBytes() ([]byte, error) {
	return cbor.Marshal(keyPackageTBS{
		Version:    kp.Version,
		Credential: kp.Credential,
		InitKey:    kp.InitKey,
		LastResort: kp.LastResort,
		CreatedAt:  kp.CreatedAt,
	})
}

// GenerateKeyPackage builds and signs a last-resort key package for the
// local identity, retaining the init private key for a later join.
func (e *Engine) GenerateKeyPackage() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.identity()
	if err != nil {
		return nil, err
	}
	initPriv, initPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	kp := keyPackage{
		Version:    protocolVersion,
		Credential: id.Credential,
		InitKey:    initPub,
		LastResort: true,
		CreatedAt:  time.Now().Unix(),
	}
	tbs, err := kp.signedBytes()
	if err != nil {
		return nil, err
	}
	kp.Signature = crypto.SignEd25519(id.SigningKey, tbs)

	if err := e.states.SaveInitKey(initPriv); err != nil {
		return nil, fmt.Errorf("save init key: %w", err)
	}
	return encodeFrame(kindKeyPackage, nil, kp)
}

// ValidateKeyPackage checks a fetched package against identity.
func (e *Engine) ValidateKeyPackage(identity string, pkg []byte) error {
	_, err := decodeKeyPackage(identity, pkg)
	return err
}

// Validator is the directory-side acceptance check for uploads. It
// applies exactly the checks clients re-apply before an add.
type Validator struct{}

// Validate reports why pkg is not an acceptable package for identity.
func (Validator) Validate(identity string, pkg []byte) error {
	_, err := decodeKeyPackage(identity, pkg)
	return err
}

var _ domain.KeyPackageValidator = Validator{}

// parseKeyPackage verifies a package against the identity its own
// credential names. Callers that know the expected owner use
// decodeKeyPackage instead.
func parseKeyPackage(raw []byte) (keyPackage, error) {
	f, err := decodeFrame(raw)
	if err != nil {
		return keyPackage{}, fmt.Errorf("%w: %v", domain.ErrInvalidKeyPackage, err)
	}
	var kp keyPackage
	if err := cbor.Unmarshal(f.Body, &kp); err != nil {
		return keyPackage{}, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidKeyPackage, err)
	}
	return decodeKeyPackage(kp.Credential.Identity, raw)
}

// decodeKeyPackage decodes and fully verifies a key package claimed to
// belong to identity. All failures wrap domain.ErrInvalidKeyPackage.
func decodeKeyPackage(identity string, raw []byte) (keyPackage, error) {
	f, err := decodeFrame(raw)
	if err != nil {
		return keyPackage{}, fmt.Errorf("%w: %v", domain.ErrInvalidKeyPackage, err)
	}
	if f.Kind != kindKeyPackage {
		return keyPackage{}, fmt.Errorf("%w: kind %d is not a key package", domain.ErrInvalidKeyPackage, f.Kind)
	}
	var kp keyPackage
	if err := cbor.Unmarshal(f.Body, &kp); err != nil {
		return keyPackage{}, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidKeyPackage, err)
	}
	if kp.Version != protocolVersion {
		return keyPackage{}, fmt.Errorf("%w: version %d not supported", domain.ErrInvalidKeyPackage, kp.Version)
	}
	if !kp.LastResort {
		return keyPackage{}, fmt.Errorf("%w: not a last-resort package", domain.ErrInvalidKeyPackage)
	}
	if kp.Credential.Identity != identity {
		return keyPackage{}, fmt.Errorf("%w: credential names %q, claimed %q", domain.ErrInvalidKeyPackage, kp.Credential.Identity, identity)
	}
	tbs, err := kp.signedBytes()
	if err != nil {
		return keyPackage{}, fmt.Errorf("%w: %v", domain.ErrInvalidKeyPackage, err)
	}
	if !crypto.VerifyEd25519(kp.Credential.VerifyKey, tbs, kp.Signature) {
		return keyPackage{}, fmt.Errorf("%w: bad signature", domain.ErrInvalidKeyPackage)
	}
	return kp, nil
}
