package domain

// Credential binds an identity name to its signature verification key.
// It is issued once at registration and never regenerated.
type Credential struct {
	Identity  string
	VerifyKey Ed25519Public
}

// Identity is the locally stored account: the unique name, the private
// signing key, and the credential derived from it.
type Identity struct {
	Name       string
	SigningKey Ed25519Private
	Credential Credential
}
