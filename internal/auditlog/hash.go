// Package auditlog is an append-only, Merkle-rooted log of audit entries.
//
// Leaves are sha256 digests of the JCS-canonical JSON of an entry. Interior
// nodes are sha256(left || right) over raw 32-byte digests. A level with an
// odd node count duplicates its last node before pairing.
package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is a raw sha256 digest.
type Hash [sha256.Size]byte

// ZeroHash is the root of an empty log.
var ZeroHash Hash

const hashPrefix = "sha256:"

// HashLeaf hashes canonical entry bytes into a leaf.
func HashLeaf(data []byte) Hash {
	return sha256.Sum256(data)
}

// HashNodes combines two child digests.
func HashNodes(left, right Hash) Hash {
	var buf [2 * sha256.Size]byte
	copy(buf[:sha256.Size], left[:])
	copy(buf[sha256.Size:], right[:])
	return sha256.Sum256(buf[:])
}

// Hex returns the lowercase hex encoding without prefix.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String returns the digest in "sha256:<hex>" form.
func (h Hash) String() string {
	return hashPrefix + h.Hex()
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ParseHash accepts 64 hex characters with an optional "sha256:" prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimSpace(s), hashPrefix)
	if len(s) != 2*sha256.Size {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", 2*sha256.Size, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	return h, nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
