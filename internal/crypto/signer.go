// Package crypto holds the signing capability used to attest audit log
// roots. The scheme is pluggable: callers depend on Signer and on Verify,
// which dispatches on the algorithm name.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	privateKeyType = "ED25519 PRIVATE KEY"
	publicKeyType  = "ED25519 PUBLIC KEY"
)

// AlgEd25519 is the default signature scheme.
const AlgEd25519 = "ed25519"

// Signer holds a private key exclusively. Only signatures and the public
// key leave it.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() []byte
	Algorithm() string
}

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

func NewEd25519Signer(key ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, &SignatureError{Op: "load", Algorithm: AlgEd25519,
			Reason: fmt.Sprintf("private key is %d bytes, want %d", len(key), ed25519.PrivateKeySize)}
	}
	return &Ed25519Signer{key: append(ed25519.PrivateKey(nil), key...)}, nil
}

func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.key, msg), nil
}

func (s *Ed25519Signer) PublicKey() []byte {
	pub := s.key.Public().(ed25519.PublicKey)
	return append([]byte(nil), pub...)
}

func (s *Ed25519Signer) Algorithm() string { return AlgEd25519 }

// KeyID is a short fingerprint of a public key.
func KeyID(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// GenerateKeys ed25519
func GenerateKeys(privateKeyPath, publicKeyPath string) error {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	if err := writePEM(privateKeyPath, privateKeyType, privateKey, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := writePEM(publicKeyPath, publicKeyType, publicKey, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadSigner reads a PEM private key written by GenerateKeys.
func LoadSigner(privateKeyPath string) (*Ed25519Signer, error) {
	der, err := readPEM(privateKeyPath, privateKeyType)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(ed25519.PrivateKey(der))
}

// LoadPublicKey reads a PEM public key written by GenerateKeys.
func LoadPublicKey(publicKeyPath string) ([]byte, error) {
	der, err := readPEM(publicKeyPath, publicKeyType)
	if err != nil {
		return nil, err
	}
	if len(der) != ed25519.PublicKeySize {
		return nil, &SignatureError{Op: "load", Algorithm: AlgEd25519,
			Reason: fmt.Sprintf("public key is %d bytes, want %d", len(der), ed25519.PublicKeySize)}
	}
	return der, nil
}

func readPEM(path, blockType string) ([]byte, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, &SignatureError{Op: "load", Reason: "failed to decode PEM block"}
	}
	if block.Type != blockType {
		return nil, &SignatureError{Op: "load",
			Reason: fmt.Sprintf("invalid key type: expected %s, got %s", blockType, block.Type)}
	}
	return block.Bytes, nil
}
