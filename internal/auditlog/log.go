package auditlog

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/complyledger/complyledger/internal/canonical"
	"github.com/complyledger/complyledger/internal/models"
)

// Log is the append-only audit log. It is constructed explicitly and owned
// by the caller; there is no process-wide instance.
//
// Appends are serialized. Readers see the state as of the last completed
// append.
type Log struct {
	mu      sync.RWMutex
	store   LeafStore
	tree    tree
	entries [][]byte
	root    Hash
}

// New returns an empty log backed by a MemoryStore.
func New() *Log {
	return &Log{store: NewMemoryStore()}
}

// Open rebuilds a log from store. Every record's hash is recomputed from its
// canonical bytes; any mismatch or gap returns ErrCorruptStore.
func Open(ctx context.Context, store LeafStore) (*Log, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit store: %w", err)
	}

	l := &Log{store: store}
	for i, rec := range records {
		if rec.Index != uint64(i) {
			return nil, fmt.Errorf("%w: record %d has index %d", ErrCorruptStore, i, rec.Index)
		}
		canon, err := canonical.Transform(rec.Entry)
		if err != nil || !bytes.Equal(canon, rec.Entry) {
			return nil, fmt.Errorf("%w: leaf %d is not canonical", ErrCorruptStore, i)
		}
		if got := HashLeaf(rec.Entry); got != rec.LeafHash {
			return nil, fmt.Errorf("%w: leaf %d hash mismatch: stored %s, computed %s",
				ErrCorruptStore, i, rec.LeafHash, got)
		}
		l.tree.push(rec.LeafHash)
		l.entries = append(l.entries, rec.Entry)
	}
	l.root = l.tree.root()
	return l, nil
}

// Append canonicalizes entry, persists it and extends the tree. Once the
// store write starts the append runs to completion regardless of caller
// cancellation; on failure nothing in memory changes.
func (l *Log) Append(entry models.AuditEntry) (models.LogRef, error) {
	data, err := CanonicalEntry(entry)
	if err != nil {
		return models.LogRef{}, err
	}
	leaf := HashLeaf(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	index := l.tree.size()
	rec := Record{Index: index, LeafHash: leaf, Entry: data}
	if err := l.store.Append(context.Background(), rec); err != nil {
		return models.LogRef{}, &AppendFault{Index: index, Err: err}
	}

	l.tree.push(leaf)
	l.entries = append(l.entries, data)
	l.root = l.tree.root()

	return models.LogRef{
		LeafIndex: index,
		LeafHash:  leaf.String(),
		Root:      l.root.String(),
		TreeSize:  index + 1,
	}, nil
}

// Root returns the current root, ZeroHash when empty.
func (l *Log) Root() Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.root
}

func (l *Log) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.size()
}

// Proof returns an inclusion proof for index against the current root.
func (l *Log) Proof(index uint64) (Proof, Hash, error) {
	snap := l.Snapshot()
	p, err := snap.Proof(index)
	return p, snap.Root, err
}

// Entry returns the entry stored at index.
func (l *Log) Entry(index uint64) (models.AuditEntry, error) {
	l.mu.RLock()
	if index >= uint64(len(l.entries)) {
		n := len(l.entries)
		l.mu.RUnlock()
		return models.AuditEntry{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}
	data := l.entries[index]
	l.mu.RUnlock()
	return decodeEntry(data)
}

// Snapshot captures the leaves and root atomically.
func (l *Log) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Leaves: l.tree.leaves(), Root: l.root}
}

func (l *Log) Close() error {
	return l.store.Close()
}

// Snapshot is an immutable view of the log at one size. Leaves must not be
// modified.
type Snapshot struct {
	Leaves []Hash
	Root   Hash
}

func (s Snapshot) Size() uint64 {
	return uint64(len(s.Leaves))
}

func (s Snapshot) Proof(index uint64) (Proof, error) {
	return BuildProof(s.Leaves, index)
}
