package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"medialib/internal/media"
)

// OSFilesystemManager is the real filesystem implementation of
// media.FilesystemManager. Every path it is handed must lie under root.
type OSFilesystemManager struct {
	root string
}

// NewOSFilesystemManager creates a filesystem manager confined to root,
// creating root if needed.
func NewOSFilesystemManager(root string) (*OSFilesystemManager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating upload root: %w", err)
	}
	return &OSFilesystemManager{root: abs}, nil
}

// Root returns the absolute upload root.
func (m *OSFilesystemManager) Root() string {
	return m.root
}

// confine cleans p and refuses anything outside the root.
func (m *OSFilesystemManager) confine(p string) (string, error) {
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("path is not absolute: %s", p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(m.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes upload root: %s", p)
	}
	return p, nil
}

func (m *OSFilesystemManager) MkdirAll(path string) error {
	p, err := m.confine(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0755)
}

func (m *OSFilesystemManager) Mkdir(path string) error {
	p, err := m.confine(path)
	if err != nil {
		return err
	}
	return os.Mkdir(p, 0755)
}

func (m *OSFilesystemManager) CreateExclusive(path string) error {
	p, err := m.confine(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (m *OSFilesystemManager) CreateTemp(dir, pattern string) (media.TempFile, error) {
	d, err := m.confine(dir)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(d, pattern)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (m *OSFilesystemManager) Rename(oldpath, newpath string) error {
	from, err := m.confine(oldpath)
	if err != nil {
		return err
	}
	to, err := m.confine(newpath)
	if err != nil {
		return err
	}
	return os.Rename(from, to)
}

// CopyFile copies src to a new file dst. A partial dst is removed on failure.
func (m *OSFilesystemManager) CopyFile(src, dst string) error {
	from, err := m.confine(src)
	if err != nil {
		return err
	}
	to, err := m.confine(dst)
	if err != nil {
		return err
	}
	return copyFile(from, to)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err = out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

// CopyTree copies the directory src to a new directory dst. Only directories
// and regular files are copied. A partial dst is removed on failure.
func (m *OSFilesystemManager) CopyTree(src, dst string) (err error) {
	from, err := m.confine(src)
	if err != nil {
		return err
	}
	to, err := m.confine(dst)
	if err != nil {
		return err
	}
	if rel, relErr := filepath.Rel(from, to); relErr == nil && !strings.HasPrefix(rel, "..") {
		return fmt.Errorf("cannot copy %s into itself", from)
	}

	info, err := os.Stat(from)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", from)
	}
	if err := os.Mkdir(to, info.Mode().Perm()); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(to)
		}
	}()

	return filepath.WalkDir(from, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == from {
			return nil
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		switch {
		case d.IsDir():
			return os.Mkdir(target, 0755)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
}

func (m *OSFilesystemManager) Remove(path string) error {
	p, err := m.confine(path)
	if err != nil {
		return err
	}
	if p == m.root {
		return fmt.Errorf("refusing to remove the upload root")
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (m *OSFilesystemManager) RemoveAll(path string) error {
	p, err := m.confine(path)
	if err != nil {
		return err
	}
	if p == m.root {
		return fmt.Errorf("refusing to remove the upload root")
	}
	return os.RemoveAll(p)
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path string) (io.ReadCloser, error) {
	p, err := m.confine(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", p)
	}
	return os.Open(p)
}

// Stat returns fresh file info for a path.
func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	p, err := m.confine(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

func (m *OSFilesystemManager) Exists(path string) (bool, error) {
	_, err := m.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Compile-time check that OSFilesystemManager implements media.FilesystemManager
var _ media.FilesystemManager = (*OSFilesystemManager)(nil)
