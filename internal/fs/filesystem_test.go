package fs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) (*OSFilesystemManager, string) {
	t.Helper()
	root := t.TempDir()
	m, err := NewOSFilesystemManager(root)
	if err != nil {
		t.Fatalf("NewOSFilesystemManager() error = %v", err)
	}
	return m, m.Root()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestOSFilesystemManager_Confinement(t *testing.T) {
	m, root := newTestManager(t)
	outside := filepath.Join(filepath.Dir(root), "elsewhere")

	tests := []struct {
		name string
		fn   func() error
	}{
		{"relative path", func() error { return m.MkdirAll("public/7") }},
		{"parent escape", func() error { return m.MkdirAll(filepath.Join(root, "..", "x")) }},
		{"sibling dir", func() error { return m.CreateExclusive(outside) }},
		{"rename out", func() error { return m.Rename(filepath.Join(root, "a"), outside) }},
		{"remove root", func() error { return m.RemoveAll(root) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Error("expected error for path outside the upload root")
			}
		})
	}
}

func TestOSFilesystemManager_Reservations(t *testing.T) {
	m, root := newTestManager(t)
	p := filepath.Join(root, "beach.jpg")

	if err := m.CreateExclusive(p); err != nil {
		t.Fatalf("CreateExclusive() error = %v", err)
	}
	if err := m.CreateExclusive(p); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second CreateExclusive() error = %v, want ErrExist", err)
	}

	dir := filepath.Join(root, "Vacation")
	if err := m.Mkdir(dir); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := m.Mkdir(dir); !errors.Is(err, fs.ErrExist) {
		t.Errorf("second Mkdir() error = %v, want ErrExist", err)
	}

	ok, err := m.Exists(dir)
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	ok, err = m.Exists(filepath.Join(root, "missing"))
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v, want false", ok, err)
	}
}

func TestOSFilesystemManager_TempAndRename(t *testing.T) {
	m, root := newTestManager(t)

	tmp, err := m.CreateTemp(root, ".upload-*")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	if _, err := io.WriteString(tmp, "hello"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := tmp.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	final := filepath.Join(root, "hello.txt")
	if err := m.CreateExclusive(final); err != nil {
		t.Fatalf("CreateExclusive() error = %v", err)
	}
	if err := m.Rename(tmp.Name(), final); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	rc, err := m.Open(final)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}

	if _, err := m.Open(root); err == nil {
		t.Error("Open(directory) expected error")
	}
}

func TestOSFilesystemManager_CopyFile(t *testing.T) {
	m, root := newTestManager(t)
	src := filepath.Join(root, "a.jpg")
	writeFile(t, src, "jpeg bytes")

	dst := filepath.Join(root, "b.jpg")
	if err := m.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "jpeg bytes" {
		t.Errorf("copy content = %q", got)
	}

	t.Run("existing destination is left alone", func(t *testing.T) {
		err := m.CopyFile(src, dst)
		if !errors.Is(err, fs.ErrExist) {
			t.Fatalf("CopyFile() error = %v, want ErrExist", err)
		}
		if _, err := os.Stat(dst); err != nil {
			t.Errorf("destination removed after ErrExist: %v", err)
		}
	})

	t.Run("missing source leaves nothing behind", func(t *testing.T) {
		dst := filepath.Join(root, "c.jpg")
		if err := m.CopyFile(filepath.Join(root, "missing.jpg"), dst); err == nil {
			t.Fatal("CopyFile() expected error")
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Errorf("destination exists after failed copy")
		}
	})
}

func TestOSFilesystemManager_CopyTree(t *testing.T) {
	m, root := newTestManager(t)
	src := filepath.Join(root, "public", "7", "Vacation")
	writeFile(t, filepath.Join(src, "beach.jpg"), "beach")
	writeFile(t, filepath.Join(src, "Day 1", "boat.jpg"), "boat")
	if err := os.Mkdir(filepath.Join(src, "empty"), 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	dst := filepath.Join(root, "private", "7", "Vacation")
	if err := m.MkdirAll(filepath.Dir(dst)); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := m.CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	for _, rel := range []string{"beach.jpg", filepath.Join("Day 1", "boat.jpg"), "empty"} {
		if _, err := os.Stat(filepath.Join(dst, rel)); err != nil {
			t.Errorf("copied tree missing %s: %v", rel, err)
		}
	}
	got, _ := os.ReadFile(filepath.Join(dst, "Day 1", "boat.jpg"))
	if string(got) != "boat" {
		t.Errorf("boat content = %q", got)
	}

	t.Run("destination exists", func(t *testing.T) {
		if err := m.CopyTree(src, dst); !errors.Is(err, fs.ErrExist) {
			t.Errorf("CopyTree() error = %v, want ErrExist", err)
		}
		if _, err := os.Stat(filepath.Join(dst, "beach.jpg")); err != nil {
			t.Errorf("existing destination damaged: %v", err)
		}
	})

	t.Run("into itself", func(t *testing.T) {
		if err := m.CopyTree(src, filepath.Join(src, "inner")); err == nil {
			t.Error("CopyTree() into itself expected error")
		}
	})
}

func TestOSFilesystemManager_RemoveIsIdempotent(t *testing.T) {
	m, root := newTestManager(t)
	f := filepath.Join(root, "a.jpg")
	writeFile(t, f, "x")
	d := filepath.Join(root, "dir")
	writeFile(t, filepath.Join(d, "nested", "b.jpg"), "y")

	for i := 0; i < 2; i++ {
		if err := m.Remove(f); err != nil {
			t.Errorf("Remove() pass %d error = %v", i, err)
		}
		if err := m.RemoveAll(d); err != nil {
			t.Errorf("RemoveAll() pass %d error = %v", i, err)
		}
	}
	if _, err := os.Stat(d); !os.IsNotExist(err) {
		t.Error("directory still exists after RemoveAll()")
	}

	if err := m.Remove(root); err == nil {
		t.Error("Remove(root) expected error")
	}
}
