package crypto_test

import (
	"testing"

	"conclave/internal/crypto"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	sb, err := crypto.Seal(pub, []byte("epoch secret"), []byte("ad"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	pt, err := crypto.Open(priv, sb, []byte("ad"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(pt) != "epoch secret" {
		t.Fatalf("plaintext mismatch: %q", pt)
	}
}

func TestSealOpen_WrongKeyFails(t *testing.T) {
	_, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	otherPriv, _, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	sb, err := crypto.Seal(pub, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := crypto.Open(otherPriv, sb, nil); err == nil {
		t.Fatal("expected open with wrong key to fail")
	}
}

func TestSealOpen_TamperedADFails(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	sb, err := crypto.Seal(pub, []byte("secret"), []byte("group|epoch"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := crypto.Open(priv, sb, []byte("group|other")); err == nil {
		t.Fatal("expected open with different ad to fail")
	}
}
