package crypto

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func generateTestKeys(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	priv := filepath.Join(dir, "private.key")
	pub := filepath.Join(dir, "public.key")
	if err := GenerateKeys(priv, pub); err != nil {
		t.Fatalf("GenerateKeys failed: %v", err)
	}
	return priv, pub
}

func TestGenerateLoadSignVerify(t *testing.T) {
	privPath, pubPath := generateTestKeys(t)

	signer, err := LoadSigner(privPath)
	if err != nil {
		t.Fatalf("LoadSigner failed: %v", err)
	}
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKey failed: %v", err)
	}
	if string(pub) != string(signer.PublicKey()) {
		t.Fatal("public key file does not match signer")
	}

	msg := []byte("root")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	ok, err := Verify(signer.Algorithm(), pub, msg, sig)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}

	ok, err = Verify(AlgEd25519, pub, []byte("other"), sig)
	if err != nil {
		t.Fatalf("mismatch should not be an error: %v", err)
	}
	if ok {
		t.Error("signature verified over a different message")
	}
}

func TestPrivateKeyPermissions(t *testing.T) {
	privPath, _ := generateTestKeys(t)
	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("private key mode = %o", perm)
	}
}

func TestLoadKeyErrors(t *testing.T) {
	privPath, pubPath := generateTestKeys(t)
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.key")
	if err := os.WriteFile(garbage, []byte("not pem"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadSigner(pubPath); !errors.Is(err, ErrSignature) {
		t.Errorf("public key as signer: err = %v", err)
	}
	if _, err := LoadPublicKey(privPath); !errors.Is(err, ErrSignature) {
		t.Errorf("private key as public: err = %v", err)
	}
	if _, err := LoadSigner(garbage); !errors.Is(err, ErrSignature) {
		t.Errorf("garbage: err = %v", err)
	}
	if _, err := LoadSigner(filepath.Join(dir, "missing.key")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestNewEd25519Signer_BadSize(t *testing.T) {
	_, err := NewEd25519Signer(ed25519.PrivateKey{1, 2, 3})
	var sigErr *SignatureError
	if !errors.As(err, &sigErr) {
		t.Fatalf("err = %v, want *SignatureError", err)
	}
}

func TestKeyID(t *testing.T) {
	a := KeyID([]byte("a"))
	if len(a) != 16 {
		t.Errorf("key id %q length %d", a, len(a))
	}
	if a == KeyID([]byte("b")) {
		t.Error("different keys share an id")
	}
}
