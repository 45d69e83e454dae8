// Package crypto exposes the minimal primitives used by Conclave.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie-Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Labelled HKDF-SHA256 key derivation (DeriveKey)
//   - One-shot anonymous encryption to an X25519 key (Seal, Open)
//
// # Notes
//
// All functions work with the fixed-size array types defined in
// internal/domain to avoid accidental reallocations. Callers should treat
// returned secrets as sensitive and wipe them when practical.
package crypto
