package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"conclave/internal/domain"
	"conclave/internal/util/memzero"
)

// SealedBox is a one-shot anonymous encryption to an X25519 public key:
// a fresh ephemeral key agrees with the recipient key, the shared secret
// feeds HKDF, and ChaCha20-Poly1305 protects the payload. The nonce is
// zero because every box uses a fresh key.
type SealedBox struct {
	Ephemeral domain.X25519Public
	Box       []byte
}

// Seal encrypts plaintext to pub, binding ad into the AEAD tag.
func Seal(pub domain.X25519Public, plaintext, ad []byte) (SealedBox, error) {
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return SealedBox{}, err
	}
	defer memzero.Zero(ephPriv[:])

	shared, err := DH(ephPriv, pub)
	if err != nil {
		return SealedBox{}, err
	}
	key := sealKey(shared, ephPub, pub)
	memzero.Zero(shared[:])

	aead, err := chacha20poly1305.New(key)
	memzero.Zero(key)
	if err != nil {
		return SealedBox{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return SealedBox{Ephemeral: ephPub, Box: aead.Seal(nil, nonce, plaintext, ad)}, nil
}

// Open decrypts a SealedBox with the recipient private key, checking ad.
func Open(priv domain.X25519Private, sb SealedBox, ad []byte) ([]byte, error) {
	pub, err := PublicX25519(priv)
	if err != nil {
		return nil, err
	}
	shared, err := DH(priv, sb.Ephemeral)
	if err != nil {
		return nil, err
	}
	key := sealKey(shared, sb.Ephemeral, pub)
	memzero.Zero(shared[:])

	aead, err := chacha20poly1305.New(key)
	memzero.Zero(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Open(nil, nonce, sb.Box, ad)
}

// sealKey binds the AEAD key to both public keys of the exchange.
func sealKey(shared [32]byte, eph, rcpt domain.X25519Public) []byte {
	info := make([]byte, 0, len(sealLabel)+64)
	info = append(info, sealLabel...)
	info = append(info, eph[:]...)
	info = append(info, rcpt[:]...)

	r := hkdf.New(sha256.New, shared[:], nil, info)
	key := make([]byte, chacha20poly1305.KeySize)
	_, _ = io.ReadFull(r, key)
	return key
}

const sealLabel = "conclave-seal-v1|"
