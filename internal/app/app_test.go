package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"medialib/internal/config"
	"medialib/internal/database"
	"medialib/internal/media"
	"medialib/internal/snapshot"
)

var admin = media.Subject{ID: 1, TenantID: media.MainTenant, Role: media.RoleAdministrator}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("test-instance", t.TempDir())
	cfg.Encryption.Type = "test"
	cfg.LogLevel = "error"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *MediaApp {
	t.Helper()
	a, err := NewMediaApp(context.Background(), cfg, operation, "")
	if err != nil {
		t.Fatalf("NewMediaApp() error = %v", err)
	}
	return a
}

func vaultVersion(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	v, err := snapshot.NewFileSystemVault("local", cfg.Snapshots[0].FSVaultRoot)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	version, err := v.Version(context.Background(), cfg.InstanceID)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	return version
}

func mkdir(t *testing.T, cfg *config.Config, name string) *media.Entry {
	t.Helper()
	a := newTestApp(t, cfg, "MakeDirectory")
	e, err := a.MakeDirectory(context.Background(), admin, media.MakeDirectoryRequest{
		ParentID: media.RootID,
		Status:   media.StatusPublic,
		Name:     name,
	})
	if err != nil {
		a.Close()
		t.Fatalf("MakeDirectory() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return e
}

func TestMediaApp_MutatingCommandSnapshots(t *testing.T) {
	cfg := newTestConfig(t)

	dir := mkdir(t, cfg, "Vacation")
	if got := vaultVersion(t, cfg); got != 1 {
		t.Fatalf("vault version = %d, want 1", got)
	}

	a := newTestApp(t, cfg, "Get")
	defer a.Close()
	got, err := a.Get(context.Background(), admin, dir.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "Vacation" {
		t.Errorf("Title = %q, want %q", got.Title, "Vacation")
	}

	ops, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "MakeDirectory" || ops[0].Status != statusSuccess {
		t.Errorf("history = %+v, want one successful MakeDirectory", ops)
	}
	if ops[0].FinishedAt == nil {
		t.Error("operation was not finished")
	}
}

func TestMediaApp_ReadOnlyCommandDoesNotSnapshot(t *testing.T) {
	cfg := newTestConfig(t)

	a := newTestApp(t, cfg, "List")
	if _, err := a.List(context.Background(), admin, media.ListQuery{TenantID: media.MainTenant}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := vaultVersion(t, cfg); got != 0 {
		t.Errorf("vault version = %d, want 0", got)
	}
}

func TestMediaApp_FailedCommandIsRecorded(t *testing.T) {
	cfg := newTestConfig(t)

	a := newTestApp(t, cfg, "Delete")
	if _, err := a.Delete(context.Background(), admin, 12345); !media.IsCode(err, media.ErrNotFound) {
		t.Fatalf("Delete() error = %v, want NotFound", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	a = newTestApp(t, cfg, "History")
	defer a.Close()
	ops, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Status != statusError {
		t.Errorf("history = %+v, want one failed Delete", ops)
	}
}

func TestMediaApp_RefusesStaleDatabase(t *testing.T) {
	cfg := newTestConfig(t)

	v, err := snapshot.NewFileSystemVault("local", cfg.Snapshots[0].FSVaultRoot)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	if err := v.Put(context.Background(), cfg.InstanceID, strings.NewReader("db"), 2, 99); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	_, err = NewMediaApp(context.Background(), cfg, "List", "")
	if err == nil {
		t.Fatal("NewMediaApp() expected error for a stale database")
	}
	if !strings.Contains(err.Error(), "behind") {
		t.Errorf("NewMediaApp() error = %v, want mention of behind", err)
	}
}

func TestMediaApp_UploadAndDownload(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "notes.txt")
	content := []byte(strings.Repeat("field notes\n", 200))
	if err := os.WriteFile(local, content, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	a := newTestApp(t, cfg, "Upload")
	res, err := a.UploadFile(ctx, admin, local, media.UploadRequest{ParentID: media.RootID, Status: media.StatusPrivate})
	if err != nil {
		a.Close()
		t.Fatalf("UploadFile() error = %v", err)
	}
	if res.Entry.ByteSize != int64(len(content)) {
		t.Errorf("ByteSize = %d, want %d", res.Entry.ByteSize, len(content))
	}
	if res.Entry.Title != "notes.txt" {
		t.Errorf("Title = %q, want %q", res.Entry.Title, "notes.txt")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	a = newTestApp(t, cfg, "Cat")
	defer a.Close()
	var buf bytes.Buffer
	if _, err := a.Download(ctx, admin, res.Entry.ID, &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Error("downloaded content differs from upload")
	}

	used, err := a.Usage(ctx, admin, admin.ID)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if want := media.KilobytesFor(int64(len(content))); used != want {
		t.Errorf("Usage() = %d, want %d", used, want)
	}
}

func TestMediaApp_UploadDirectoryRefused(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, "Upload")
	defer a.Close()

	_, err := a.UploadFile(context.Background(), admin, t.TempDir(), media.UploadRequest{Status: media.StatusPublic})
	if err == nil {
		t.Fatal("UploadFile() expected error for a directory")
	}
	if a.Operation().Persisted() {
		t.Error("a rejected local path should not record an operation")
	}
}

func TestRestoreSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("restores a lost database", func(t *testing.T) {
		cfg := newTestConfig(t)
		dir := mkdir(t, cfg, "Vacation")

		removeDatabaseFiles(database.FilePath(cfg.Database, cfg.InstanceID))

		version, err := RestoreSnapshot(ctx, cfg, RestoreOptions{})
		if err != nil {
			t.Fatalf("RestoreSnapshot() error = %v", err)
		}
		if version != 1 {
			t.Errorf("version = %d, want 1", version)
		}

		a := newTestApp(t, cfg, "Get")
		defer a.Close()
		if _, err := a.Get(ctx, admin, dir.ID); err != nil {
			t.Errorf("Get() after restore error = %v", err)
		}
	})

	t.Run("no snapshot", func(t *testing.T) {
		cfg := newTestConfig(t)
		if _, err := RestoreSnapshot(ctx, cfg, RestoreOptions{}); err == nil {
			t.Fatal("RestoreSnapshot() expected error without a snapshot")
		}
	})

	t.Run("unknown vault", func(t *testing.T) {
		cfg := newTestConfig(t)
		if _, err := RestoreSnapshot(ctx, cfg, RestoreOptions{Vault: "offsite"}); err == nil {
			t.Fatal("RestoreSnapshot() expected error for unknown vault")
		}
	})

	t.Run("memory database", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Database = config.DatabaseConfig{Type: "memory"}
		if _, err := RestoreSnapshot(ctx, cfg, RestoreOptions{}); err == nil {
			t.Fatal("RestoreSnapshot() expected error for a memory database")
		}
	})

	t.Run("refuses to replace a newer database", func(t *testing.T) {
		cfg := newTestConfig(t)
		mkdir(t, cfg, "Vacation")

		// Record a second operation without a vault so only the local
		// database moves ahead.
		vaults := cfg.Snapshots
		cfg.Snapshots = nil
		mkdir(t, cfg, "Work")
		cfg.Snapshots = vaults

		if _, err := RestoreSnapshot(ctx, cfg, RestoreOptions{}); err == nil {
			t.Fatal("RestoreSnapshot() expected error for a newer local database")
		}
		version, err := RestoreSnapshot(ctx, cfg, RestoreOptions{Force: true})
		if err != nil {
			t.Fatalf("RestoreSnapshot(Force) error = %v", err)
		}
		if version != 1 {
			t.Errorf("version = %d, want 1", version)
		}
	})
}

func TestInitKeys(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Encryption.Type = "age"

	need, err := KeysNeedPassphrase(cfg)
	if err != nil {
		t.Fatalf("KeysNeedPassphrase() error = %v", err)
	}
	if !need {
		t.Error("KeysNeedPassphrase() = false for age")
	}

	if err := InitKeys(cfg, "correct horse"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if err := InitKeys(cfg, "correct horse"); err == nil {
		t.Error("second InitKeys() expected error")
	}
}

func TestMediaApp_AgeSealedSnapshotRestores(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Encryption.Type = "age"
	if err := InitKeys(cfg, "correct horse"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}

	mkdir(t, cfg, "Vacation")
	removeDatabaseFiles(database.FilePath(cfg.Database, cfg.InstanceID))

	if _, err := RestoreSnapshot(ctx, cfg, RestoreOptions{Passphrase: "wrong"}); err == nil {
		t.Fatal("RestoreSnapshot() with wrong passphrase expected error")
	}
	if _, err := RestoreSnapshot(ctx, cfg, RestoreOptions{Passphrase: "correct horse"}); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
}
