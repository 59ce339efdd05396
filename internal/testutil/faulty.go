package testutil

import (
	"context"
	"errors"
	"sync"

	"medialib/internal/media"
)

// ErrInjected is the default failure returned by the faulty wrappers.
var ErrInjected = errors.New("injected failure")

// faults maps an operation name to the error it should return. A fault fires
// once unless it was registered with FailAlways.
type faults struct {
	mu     sync.Mutex
	once   map[string]error
	always map[string]error
}

func (f *faults) fail(op string, err error, always bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	if always {
		if f.always == nil {
			f.always = make(map[string]error)
		}
		f.always[op] = err
		return
	}
	if f.once == nil {
		f.once = make(map[string]error)
	}
	f.once[op] = err
}

func (f *faults) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.always[op]; ok {
		return err
	}
	if err, ok := f.once[op]; ok {
		delete(f.once, op)
		return err
	}
	return nil
}

// FaultyStore wraps a media.Store and fails chosen methods on demand.
type FaultyStore struct {
	media.Store
	faults faults
}

func NewFaultyStore(inner media.Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// FailNext makes the next call of method return err (ErrInjected when nil).
func (s *FaultyStore) FailNext(method string, err error) { s.faults.fail(method, err, false) }

// FailAlways makes every call of method return err.
func (s *FaultyStore) FailAlways(method string, err error) { s.faults.fail(method, err, true) }

func (s *FaultyStore) CreateEntry(ctx context.Context, d media.EntryDraft) (*media.Entry, error) {
	if err := s.faults.take("CreateEntry"); err != nil {
		return nil, err
	}
	return s.Store.CreateEntry(ctx, d)
}

func (s *FaultyStore) UpdateEntry(ctx context.Context, tenantID, id int64, c media.EntryChanges) (*media.Entry, error) {
	if err := s.faults.take("UpdateEntry"); err != nil {
		return nil, err
	}
	return s.Store.UpdateEntry(ctx, tenantID, id, c)
}

func (s *FaultyStore) DeleteEntry(ctx context.Context, tenantID, id int64) error {
	if err := s.faults.take("DeleteEntry"); err != nil {
		return err
	}
	return s.Store.DeleteEntry(ctx, tenantID, id)
}

// FaultyFilesystem wraps a media.FilesystemManager and fails chosen methods
// on demand.
type FaultyFilesystem struct {
	media.FilesystemManager
	faults faults
}

func NewFaultyFilesystem(inner media.FilesystemManager) *FaultyFilesystem {
	return &FaultyFilesystem{FilesystemManager: inner}
}

// FailNext makes the next call of method return err (ErrInjected when nil).
func (f *FaultyFilesystem) FailNext(method string, err error) { f.faults.fail(method, err, false) }

// FailAlways makes every call of method return err.
func (f *FaultyFilesystem) FailAlways(method string, err error) { f.faults.fail(method, err, true) }

func (f *FaultyFilesystem) Mkdir(path string) error {
	if err := f.faults.take("Mkdir"); err != nil {
		return err
	}
	return f.FilesystemManager.Mkdir(path)
}

func (f *FaultyFilesystem) Rename(oldpath, newpath string) error {
	if err := f.faults.take("Rename"); err != nil {
		return err
	}
	return f.FilesystemManager.Rename(oldpath, newpath)
}

func (f *FaultyFilesystem) CopyFile(src, dst string) error {
	if err := f.faults.take("CopyFile"); err != nil {
		return err
	}
	return f.FilesystemManager.CopyFile(src, dst)
}

func (f *FaultyFilesystem) CopyTree(src, dst string) error {
	if err := f.faults.take("CopyTree"); err != nil {
		return err
	}
	return f.FilesystemManager.CopyTree(src, dst)
}

func (f *FaultyFilesystem) Remove(path string) error {
	if err := f.faults.take("Remove"); err != nil {
		return err
	}
	return f.FilesystemManager.Remove(path)
}

func (f *FaultyFilesystem) RemoveAll(path string) error {
	if err := f.faults.take("RemoveAll"); err != nil {
		return err
	}
	return f.FilesystemManager.RemoveAll(path)
}

var (
	_ media.Store             = (*FaultyStore)(nil)
	_ media.FilesystemManager = (*FaultyFilesystem)(nil)
)
