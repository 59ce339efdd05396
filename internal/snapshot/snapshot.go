// Package snapshot stores versioned copies of the metadata database away from
// the instance that owns it.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"medialib/internal/config"
)

// ErrNotFound is returned by Get when a vault holds no snapshot for an
// instance.
var ErrNotFound = errors.New("snapshot not found")

// Vault receives metadata snapshots. A snapshot is tagged with the operation
// id that produced it so a stale database can be detected at startup.
type Vault interface {
	Name() string
	Put(ctx context.Context, instanceID string, r io.Reader, size int64, version int64) error
	Get(ctx context.Context, instanceID string, w io.Writer) error
	// Version returns 0 when no snapshot exists.
	Version(ctx context.Context, instanceID string) (int64, error)
	ValidateSetup(ctx context.Context) error
}

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(ctx context.Context, cfg config.SnapshotConfig) (Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	case "s3":
		return NewS3VaultFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}

// NewVaultsFromConfig builds every configured vault.
func NewVaultsFromConfig(ctx context.Context, cfgs []config.SnapshotConfig) ([]Vault, error) {
	vaults := make([]Vault, 0, len(cfgs))
	for i, cfg := range cfgs {
		v, err := NewVaultFromConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("snapshots[%d]: %w", i, err)
		}
		vaults = append(vaults, v)
	}
	return vaults, nil
}

// readExactly reads r fully and fails unless it yields exactly size bytes.
func readExactly(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}
