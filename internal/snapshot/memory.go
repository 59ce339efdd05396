package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryVault keeps snapshots in memory. It is safe for concurrent use.
type MemoryVault struct {
	name     string
	data     map[string][]byte
	versions map[string]int64
	mu       sync.RWMutex
}

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		data:     make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (m *MemoryVault) Name() string { return m.name }

func (m *MemoryVault) Put(ctx context.Context, instanceID string, r io.Reader, size int64, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := readExactly(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[instanceID] = data
	m.versions[instanceID] = version
	return nil
}

func (m *MemoryVault) Get(ctx context.Context, instanceID string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.data[instanceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) Version(ctx context.Context, instanceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[instanceID], nil
}

func (m *MemoryVault) ValidateSetup(context.Context) error { return nil }

var _ Vault = (*MemoryVault)(nil)
