package auditlog

import (
	"errors"
	"fmt"
)

var (
	// ErrAuditAppend matches any append that did not complete.
	ErrAuditAppend = errors.New("audit append failed")
	// ErrInvalidEntry is returned for entries that cannot be canonicalized.
	ErrInvalidEntry = errors.New("invalid audit entry")
	// ErrCorruptStore is returned by Open when persisted leaves do not
	// match their recomputed hashes.
	ErrCorruptStore = errors.New("audit store is corrupt")
)

// AppendFault reports a failed append. The log is unchanged when it is
// returned.
type AppendFault struct {
	Index uint64
	Err   error
}

func (e *AppendFault) Error() string {
	return fmt.Sprintf("audit append of leaf %d failed: %v", e.Index, e.Err)
}

func (e *AppendFault) Unwrap() []error {
	return []error{ErrAuditAppend, e.Err}
}
