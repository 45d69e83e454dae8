package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into n bytes bound to label via HKDF-SHA256.
func DeriveKey(secret, label []byte, n int) []byte {
	r := hkdf.New(sha256.New, secret, nil, label)
	out := make([]byte, n)
	_, _ = io.ReadFull(r, out)
	return out
}
