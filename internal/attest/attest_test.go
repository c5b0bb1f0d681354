package attest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
)

func newTestSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := crypto.NewEd25519Signer(priv)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSignVerifyRoot(t *testing.T) {
	signer := newTestSigner(t)
	root := auditlog.Hash(sha256.Sum256([]byte("root")))

	sig, err := SignRoot(signer, root)
	if err != nil {
		t.Fatalf("SignRoot failed: %v", err)
	}

	ok, err := VerifyRoot(root, sig, signer.PublicKey())
	if err != nil || !ok {
		t.Fatalf("VerifyRoot = %v, %v", ok, err)
	}

	other := auditlog.Hash(sha256.Sum256([]byte("other")))
	if ok, _ := VerifyRoot(other, sig, signer.PublicKey()); ok {
		t.Error("signature verified for a different root")
	}

	stranger := newTestSigner(t)
	if ok, _ := VerifyRoot(root, sig, stranger.PublicKey()); ok {
		t.Error("signature verified under a different key")
	}

	if _, err := VerifyRoot(root, sig[:10], signer.PublicKey()); !errors.Is(err, crypto.ErrSignature) {
		t.Errorf("malformed signature: err = %v", err)
	}
}

func TestRootAndCheckpointMessagesDiffer(t *testing.T) {
	signer := newTestSigner(t)
	root := auditlog.Hash(sha256.Sum256([]byte("root")))

	a, err := SignCheckpoint(signer, root, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	sig, err := SignRoot(signer, root)
	if err != nil {
		t.Fatal(err)
	}

	// a root signature must not pass as a checkpoint signature
	forged := a
	forged.Signature = encode(sig)
	if ok, _ := Verify(forged); ok {
		t.Error("root signature accepted as checkpoint")
	}
}

func TestAttestationVerify(t *testing.T) {
	signer := newTestSigner(t)
	log := auditlog.New()
	root := log.Root()

	a, err := SignCheckpoint(signer, root, 0, "2024-03-01T10:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if a.KeyID != crypto.KeyID(signer.PublicKey()) || a.Algorithm != crypto.AlgEd25519 {
		t.Errorf("attestation = %+v", a)
	}
	if ok, err := Verify(a); err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
	if ok, err := VerifyWithKey(a, signer.PublicKey()); err != nil || !ok {
		t.Fatalf("VerifyWithKey = %v, %v", ok, err)
	}
	if ok, _ := VerifyWithKey(a, newTestSigner(t).PublicKey()); ok {
		t.Error("attestation verified under an untrusted key")
	}

	resized := a
	resized.TreeSize = 4
	if ok, _ := Verify(resized); ok {
		t.Error("tree size is not covered by the signature")
	}

	bad := []struct {
		name   string
		mutate func(*Attestation)
	}{
		{"format", func(a *Attestation) { a.Format = "v0" }},
		{"root", func(a *Attestation) { a.Root = "sha256:zz" }},
		{"signature encoding", func(a *Attestation) { a.Signature = "%%%" }},
		{"public key encoding", func(a *Attestation) { a.PublicKey = "%%%" }},
		{"algorithm", func(a *Attestation) { a.Algorithm = "rsa" }},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			c := a
			tt.mutate(&c)
			ok, err := Verify(c)
			if ok || !errors.Is(err, crypto.ErrSignature) {
				t.Errorf("Verify = %v, %v", ok, err)
			}
		})
	}
}
