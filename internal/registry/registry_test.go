package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// exercise runs the publish-once contract against any backend. name must be
// unique per run for shared backends.
func exercise(t *testing.T, reg Registry, name string) {
	t.Helper()
	ctx := context.Background()
	v1 := []byte("name: demo\nversion: \"1\"\n")

	if err := reg.Publish(ctx, name, "1.0", v1); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := reg.Publish(ctx, name, "1.0", v1); err != nil {
		t.Errorf("re-publishing identical bytes should be a no-op, got %v", err)
	}
	if err := reg.Publish(ctx, name, "1.0", []byte("changed")); !errors.Is(err, ErrImmutable) {
		t.Errorf("expected ErrImmutable, got %v", err)
	}

	got, err := reg.Get(ctx, name, "1.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(v1) {
		t.Errorf("Get = %q, want %q", got, v1)
	}

	if _, err := reg.Get(ctx, name, "9.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := reg.Publish(ctx, name, "0.9", []byte("older")); err != nil {
		t.Fatal(err)
	}
	versions, err := reg.Versions(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0] != "0.9" || versions[1] != "1.0" {
		t.Errorf("Versions = %v", versions)
	}
}

func TestMemory_Contract(t *testing.T) {
	exercise(t, NewMemory(), "NCA_baseline")
}

func TestMemory_RejectsBadRefs(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()
	for _, tc := range []struct{ name, version string }{
		{"", "1.0"},
		{"demo", ""},
		{"de:mo", "1.0"},
		{"demo", "1@0"},
	} {
		if err := reg.Publish(ctx, tc.name, tc.version, []byte("x")); err == nil {
			t.Errorf("Publish(%q, %q) should fail", tc.name, tc.version)
		}
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()
	data := []byte("original")
	if err := reg.Publish(ctx, "demo", "1", data); err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'

	got, _ := reg.Get(ctx, "demo", "1")
	if string(got) != "original" {
		t.Errorf("stored bytes were aliased: %q", got)
	}
	got[0] = 'Y'
	again, _ := reg.Get(ctx, "demo", "1")
	if string(again) != "original" {
		t.Errorf("returned bytes were aliased: %q", again)
	}
}

func TestMemory_ConcurrentPublishOneWinner(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := reg.Publish(ctx, "demo", "1", []byte(fmt.Sprintf("v%d", i))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one successful publish, got %d", wins)
	}
}

func TestOpen_EmptyAddrIsMemory(t *testing.T) {
	reg, err := Open(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.(*Memory); !ok {
		t.Errorf("Open(\"\") = %T, want *Memory", reg)
	}
}

func TestRedis_Contract(t *testing.T) {
	addr := os.Getenv("COMPLYLEDGER_REDIS_ADDR")
	if addr == "" {
		t.Skip("COMPLYLEDGER_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg, err := NewRedis(ctx, addr, os.Getenv("COMPLYLEDGER_REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer reg.Close()

	exercise(t, reg, fmt.Sprintf("test_%d", time.Now().UnixNano()))
}
