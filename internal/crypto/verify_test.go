package crypto

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"
)

func TestVerify_MalformedInput(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("m")
	sig := ed25519.Sign(priv, msg)

	tests := []struct {
		name string
		alg  string
		pub  []byte
		sig  []byte
	}{
		{"short key", AlgEd25519, pub[:10], sig},
		{"short signature", AlgEd25519, pub, sig[:20]},
		{"unknown algorithm", "ml-dsa-65", pub, sig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Verify(tt.alg, tt.pub, msg, tt.sig)
			if ok {
				t.Error("malformed input verified")
			}
			if !errors.Is(err, ErrSignature) {
				t.Errorf("err = %v, want ErrSignature", err)
			}
		})
	}
}

type xorSigner struct{ key byte }

func (s xorSigner) Sign(msg []byte) ([]byte, error) {
	out := make([]byte, len(msg))
	for i, b := range msg {
		out[i] = b ^ s.key
	}
	return out, nil
}
func (s xorSigner) PublicKey() []byte { return []byte{s.key} }
func (s xorSigner) Algorithm() string { return "test-xor" }

func TestRegisterVerifier_NewScheme(t *testing.T) {
	RegisterVerifier("test-xor", func(pub, msg, sig []byte) (bool, error) {
		want, _ := xorSigner{key: pub[0]}.Sign(msg)
		return bytes.Equal(want, sig), nil
	})

	var s Signer = xorSigner{key: 0x5a}
	sig, _ := s.Sign([]byte("root"))
	ok, err := Verify(s.Algorithm(), s.PublicKey(), []byte("root"), sig)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}

	found := false
	for _, alg := range Algorithms() {
		if alg == "test-xor" {
			found = true
		}
	}
	if !found {
		t.Errorf("Algorithms() = %v", Algorithms())
	}
}
