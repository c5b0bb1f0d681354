package auditlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/complyledger/complyledger/internal/canonical"
	"github.com/complyledger/complyledger/internal/models"
)

// CanonicalEntry returns the JCS bytes hashed into a leaf.
func CanonicalEntry(e models.AuditEntry) ([]byte, error) {
	if strings.TrimSpace(e.Action) == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	if err := CheckTimestamp(e.Timestamp); err != nil {
		return nil, err
	}

	data, err := canonical.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return data, nil
}

// CheckTimestamp reports whether ts can stamp an audit entry.
func CheckTimestamp(ts string) error {
	if ts == "" {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEntry)
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		return fmt.Errorf("%w: timestamp %q is not RFC 3339", ErrInvalidEntry, ts)
	}
	return nil
}

// LeafHash hashes an entry the way Append does.
func LeafHash(e models.AuditEntry) (Hash, error) {
	data, err := CanonicalEntry(e)
	if err != nil {
		return ZeroHash, err
	}
	return HashLeaf(data), nil
}

func decodeEntry(data []byte) (models.AuditEntry, error) {
	var e models.AuditEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return models.AuditEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	return e, nil
}
