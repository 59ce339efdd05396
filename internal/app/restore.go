package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"medialib/internal/config"
	"medialib/internal/database"
	"medialib/internal/encryption"
	"medialib/internal/media"
	"medialib/internal/snapshot"
)

// RestoreOptions selects the snapshot to restore.
type RestoreOptions struct {
	Vault      string // vault name; empty means the first configured vault
	Passphrase string
	// Force replaces a local database that is newer than the snapshot.
	Force bool
}

// RestoreSnapshot replaces the local metadata database with the latest
// snapshot from a vault and returns the restored version. The snapshot is
// decrypted and checked before the local file is touched.
func RestoreSnapshot(ctx context.Context, cfg *config.Config, opts RestoreOptions) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite database, not %q", cfg.Database.Type)
	}

	vault, err := pickVault(ctx, cfg.Snapshots, opts.Vault)
	if err != nil {
		return 0, err
	}
	version, err := vault.Version(ctx, cfg.InstanceID)
	if err != nil {
		return 0, fmt.Errorf("checking snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("vault %s holds no snapshot for %s", vault.Name(), cfg.InstanceID)
	}

	dest := database.FilePath(cfg.Database, cfg.InstanceID)
	if !opts.Force {
		local, err := localVersion(dest)
		if err != nil {
			return 0, err
		}
		if local > version {
			return 0, fmt.Errorf("local database is newer than the snapshot (local=%d, remote=%d)", local, version)
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	opener, err := enc.Unlock(opts.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking snapshot key: %w", err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	sealed, err := os.CreateTemp(cfg.Database.DataDir, ".restore-sealed-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	if err := vault.Get(ctx, cfg.InstanceID, sealed); err != nil {
		return 0, fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding snapshot: %w", err)
	}

	plain, err := os.CreateTemp(cfg.Database.DataDir, ".restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	plainPath := plain.Name()
	restored := false
	defer func() {
		if !restored {
			removeDatabaseFiles(plainPath)
		}
	}()
	err = opener.Decrypt(sealed, plain)
	if cerr := plain.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("decrypting snapshot: %w", err)
	}

	got, err := localVersion(plainPath)
	if err != nil {
		return 0, fmt.Errorf("snapshot is not a usable database: %w", err)
	}
	if got != version {
		return 0, fmt.Errorf("snapshot contents are at version %d, vault says %d", got, version)
	}

	removeDatabaseFiles(dest)
	if err := os.Rename(plainPath, dest); err != nil {
		return 0, fmt.Errorf("installing restored database: %w", err)
	}
	restored = true
	return version, nil
}

func pickVault(ctx context.Context, cfgs []config.SnapshotConfig, name string) (snapshot.Vault, error) {
	for _, c := range cfgs {
		if name == "" || c.Name == name {
			return snapshot.NewVaultFromConfig(ctx, c)
		}
	}
	if name == "" {
		return nil, fmt.Errorf("no snapshot vaults configured")
	}
	return nil, fmt.Errorf("no snapshot vault named %q", name)
}

// localVersion returns the highest operation id in the database at path, or
// 0 when there is no database.
func localVersion(path string) (int64, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	db, err := database.NewSQLiteDatabase(path, media.RealClock{})
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return db.MaxOperationID()
}

// removeDatabaseFiles deletes a sqlite file and its WAL companions.
func removeDatabaseFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
}
