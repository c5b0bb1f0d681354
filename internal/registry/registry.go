// Package registry stores published policy packages. A (name, version) pair
// is immutable once published.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned for an unknown (name, version).
	ErrNotFound = errors.New("policy not found")
	// ErrImmutable is returned when a published version would change.
	ErrImmutable = errors.New("policy version is immutable")
)

// Registry is a publish-once policy store.
type Registry interface {
	// Publish stores data. Publishing identical bytes again is a no-op.
	Publish(ctx context.Context, name, version string, data []byte) error
	Get(ctx context.Context, name, version string) ([]byte, error)
	// Versions lists the published versions of name in sorted order.
	Versions(ctx context.Context, name string) ([]string, error)
	Close() error
}

func validateRef(name, version string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(version) == "" {
		return fmt.Errorf("policy name and version are required")
	}
	if strings.ContainsAny(name, ":@ ") || strings.ContainsAny(version, ":@ ") {
		return fmt.Errorf("policy name and version must not contain ':', '@' or spaces")
	}
	return nil
}

// Memory is an in-process registry.
type Memory struct {
	mu       sync.RWMutex
	policies map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{policies: make(map[string]map[string][]byte)}
}

func (m *Memory) Publish(_ context.Context, name, version string, data []byte) error {
	if err := validateRef(name, version); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.policies[name]
	if !ok {
		versions = make(map[string][]byte)
		m.policies[name] = versions
	}
	if existing, ok := versions[version]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("%s@%s: %w", name, version, ErrImmutable)
	}
	versions[version] = bytes.Clone(data)
	return nil
}

func (m *Memory) Get(_ context.Context, name, version string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.policies[name][version]
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", name, version, ErrNotFound)
	}
	return bytes.Clone(data), nil
}

func (m *Memory) Versions(_ context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.policies[name]))
	for v := range m.policies[name] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Open returns a Redis registry when addr is set and reachable, else the
// in-memory one.
func Open(ctx context.Context, addr, password string) (Registry, error) {
	if addr == "" {
		return NewMemory(), nil
	}
	return NewRedis(ctx, addr, password)
}
