package auditlog

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	l, err := Open(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := l.Append(testEntry(i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Fatalf("stored %d records", len(records))
	}
	for i, rec := range records {
		if rec.Index != uint64(i) || rec.LeafHash != l.Snapshot().Leaves[i] {
			t.Errorf("record %d = index %d hash %s", i, rec.Index, rec.LeafHash)
		}
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	l, err := Open(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if _, err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	root := l.Root()
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	reopened, err := Open(ctx, store)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Size() != 7 || reopened.Root() != root {
		t.Errorf("reopened size %d root %s, want 7 %s", reopened.Size(), reopened.Root(), root)
	}

	if _, err := reopened.Append(testEntry(7)); err != nil {
		t.Fatalf("append after reopen failed: %v", err)
	}
}

func TestSQLiteStore_DuplicateIndexFails(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	rec := Record{Index: 0, LeafHash: leafOf("a"), Entry: []byte(`{}`)}
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(context.Background(), rec); err == nil {
		t.Error("second insert at the same index should fail")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, "memory", ""); err != nil {
		t.Errorf("memory: %v", err)
	}
	s, err := OpenStore(ctx, "sqlite", filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Errorf("sqlite: %v", err)
	} else {
		s.Close()
	}
	if _, err := OpenStore(ctx, "sqlite", ""); err == nil {
		t.Error("sqlite without path should fail")
	}
	if _, err := OpenStore(ctx, "s3", ""); err == nil {
		t.Error("unknown kind should fail")
	}
}
