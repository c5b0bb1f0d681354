package auditlog

import (
	"context"
	"os"
	"testing"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("COMPLYLEDGER_PG_DSN")
	if dsn == "" {
		t.Skip("COMPLYLEDGER_PG_DSN not set")
	}
	ctx := context.Background()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	defer store.Close()
	if _, err := store.db.Exec(ctx, `TRUNCATE audit_leaves`); err != nil {
		t.Fatal(err)
	}

	l, err := Open(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Append(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	reopened, err := Open(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Root() != l.Root() {
		t.Errorf("reopened root %s, want %s", reopened.Root(), l.Root())
	}
}
