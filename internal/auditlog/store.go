package auditlog

import (
	"context"
	"fmt"
	"sync"
)

// Record is one persisted leaf. Entry holds the canonical entry bytes.
type Record struct {
	Index    uint64
	LeafHash Hash
	Entry    []byte
}

// LeafStore persists leaves. Append is called with strictly increasing
// indexes starting at the current size; Load returns records in index order.
type LeafStore interface {
	Append(ctx context.Context, rec Record) error
	Load(ctx context.Context) ([]Record, error)
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Entry = append([]byte(nil), rec.Entry...)
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// OpenStore builds a LeafStore by kind: "memory", "sqlite" or "postgres".
func OpenStore(ctx context.Context, kind, dsn string) (LeafStore, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return NewSQLiteStore(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown audit store %q (use memory, sqlite, or postgres)", kind)
	}
}
