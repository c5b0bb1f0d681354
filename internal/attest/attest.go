// Package attest signs and verifies audit log roots.
//
// Two message forms exist. A root signature covers only the root digest.
// A checkpoint signature also covers the tree size, which pins how many
// leaves the root commits to.
package attest

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/complyledger/complyledger/internal/auditlog"
	"github.com/complyledger/complyledger/internal/crypto"
)

const (
	RootFormat       = "complyledger-root:v1"
	CheckpointFormat = "complyledger-checkpoint:v1"
)

// RootMessage is the byte string a root signature covers.
func RootMessage(root auditlog.Hash) []byte {
	return []byte(RootFormat + ":" + root.Hex())
}

// CheckpointMessage is the byte string a checkpoint signature covers.
func CheckpointMessage(root auditlog.Hash, size uint64) []byte {
	return []byte(CheckpointFormat + ":" + strconv.FormatUint(size, 10) + ":" + root.Hex())
}

// SignRoot signs root with signer.
func SignRoot(signer crypto.Signer, root auditlog.Hash) ([]byte, error) {
	sig, err := signer.Sign(RootMessage(root))
	if err != nil {
		return nil, &crypto.SignatureError{Op: "sign", Algorithm: signer.Algorithm(), Reason: "signer failed", Err: err}
	}
	return sig, nil
}

// VerifyRoot checks an Ed25519 root signature.
func VerifyRoot(root auditlog.Hash, sig, pub []byte) (bool, error) {
	return VerifyRootWith(crypto.AlgEd25519, root, sig, pub)
}

// VerifyRootWith checks a root signature made with alg.
func VerifyRootWith(alg string, root auditlog.Hash, sig, pub []byte) (bool, error) {
	return crypto.Verify(alg, pub, RootMessage(root), sig)
}

// Attestation is a signed checkpoint of the log.
type Attestation struct {
	Format    string `json:"format"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	TreeSize  uint64 `json:"tree_size"`
	Root      string `json:"root"`
	Signature string `json:"signature"`
	IssuedAt  string `json:"issued_at,omitempty"`
}

// SignCheckpoint attests that the log had root at size.
func SignCheckpoint(signer crypto.Signer, root auditlog.Hash, size uint64, issuedAt string) (Attestation, error) {
	sig, err := signer.Sign(CheckpointMessage(root, size))
	if err != nil {
		return Attestation{}, &crypto.SignatureError{Op: "sign", Algorithm: signer.Algorithm(), Reason: "signer failed", Err: err}
	}
	pub := signer.PublicKey()
	return Attestation{
		Format:    CheckpointFormat,
		Algorithm: signer.Algorithm(),
		KeyID:     crypto.KeyID(pub),
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		TreeSize:  size,
		Root:      root.String(),
		Signature: base64.StdEncoding.EncodeToString(sig),
		IssuedAt:  issuedAt,
	}, nil
}

// Verify checks an attestation against the public key it carries. Callers
// that need to pin the signer use VerifyWithKey.
func Verify(a Attestation) (bool, error) {
	pub, err := base64.StdEncoding.DecodeString(a.PublicKey)
	if err != nil {
		return false, &crypto.SignatureError{Op: "verify", Algorithm: a.Algorithm, Reason: "invalid public key encoding", Err: err}
	}
	return VerifyWithKey(a, pub)
}

// VerifyWithKey checks an attestation against a trusted public key.
func VerifyWithKey(a Attestation, pub []byte) (bool, error) {
	if a.Format != CheckpointFormat {
		return false, &crypto.SignatureError{Op: "verify", Algorithm: a.Algorithm,
			Reason: fmt.Sprintf("unsupported attestation format %q", a.Format)}
	}
	root, err := auditlog.ParseHash(a.Root)
	if err != nil {
		return false, &crypto.SignatureError{Op: "verify", Algorithm: a.Algorithm, Reason: "invalid root", Err: err}
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return false, &crypto.SignatureError{Op: "verify", Algorithm: a.Algorithm, Reason: "invalid signature encoding", Err: err}
	}
	return crypto.Verify(a.Algorithm, pub, CheckpointMessage(root, a.TreeSize), sig)
}
