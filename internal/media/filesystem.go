package media

import (
	"io"
	"io/fs"
)

// FilesystemManager provides the disk operations the service performs. All paths
// are absolute; implementations refuse paths outside their root.
type FilesystemManager interface {
	// MkdirAll creates a directory and any missing parents. Existing
	// directories are fine.
	MkdirAll(path string) error

	// Mkdir creates a single directory and fails with fs.ErrExist if anything
	// already exists at path.
	Mkdir(path string) error

	// CreateExclusive creates an empty file, failing with fs.ErrExist if path
	// is taken. Used to reserve a name.
	CreateExclusive(path string) error

	// CreateTemp creates a new temporary file in dir.
	CreateTemp(dir, pattern string) (TempFile, error)

	// Rename replaces newpath with oldpath.
	Rename(oldpath, newpath string) error

	// CopyFile copies src to dst. dst must not exist.
	CopyFile(src, dst string) error

	// CopyTree copies the directory src recursively to dst. dst must not exist.
	CopyTree(src, dst string) error

	// Remove deletes a file or an empty directory. A missing path is not an
	// error.
	Remove(path string) error

	// RemoveAll deletes path and everything below it. A missing path is not an
	// error.
	RemoveAll(path string) error

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info.
	Stat(path string) (fs.FileInfo, error)

	// Exists reports whether anything exists at path.
	Exists(path string) (bool, error)
}

// TempFile is a writable file that has not been given its final name yet.
type TempFile interface {
	io.WriteCloser
	Name() string
	Sync() error
}
