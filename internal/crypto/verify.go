package crypto

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
)

// VerifyFunc checks sig over msg with pub. A well-formed signature that does
// not match returns (false, nil); malformed input returns a *SignatureError.
type VerifyFunc func(pub, msg, sig []byte) (bool, error)

var (
	verifiersMu sync.RWMutex
	verifiers   = map[string]VerifyFunc{
		AlgEd25519: verifyEd25519,
	}
)

// RegisterVerifier adds or replaces the verifier for alg.
func RegisterVerifier(alg string, fn VerifyFunc) {
	verifiersMu.Lock()
	defer verifiersMu.Unlock()
	verifiers[alg] = fn
}

// Algorithms lists registered verifier names.
func Algorithms() []string {
	verifiersMu.RLock()
	defer verifiersMu.RUnlock()
	out := make([]string, 0, len(verifiers))
	for alg := range verifiers {
		out = append(out, alg)
	}
	sort.Strings(out)
	return out
}

// Verify dispatches to the verifier registered for alg.
func Verify(alg string, pub, msg, sig []byte) (bool, error) {
	verifiersMu.RLock()
	fn, ok := verifiers[alg]
	verifiersMu.RUnlock()
	if !ok {
		return false, &SignatureError{Op: "verify", Algorithm: alg, Reason: "unknown algorithm"}
	}
	return fn(pub, msg, sig)
}

func verifyEd25519(pub, msg, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, &SignatureError{Op: "verify", Algorithm: AlgEd25519,
			Reason: fmt.Sprintf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)}
	}
	if len(sig) != ed25519.SignatureSize {
		return false, &SignatureError{Op: "verify", Algorithm: AlgEd25519,
			Reason: fmt.Sprintf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)}
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}
