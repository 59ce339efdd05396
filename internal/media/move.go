package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// MoveRequest names the destination of a move. Status "" keeps the current
// status.
type MoveRequest struct {
	ParentID int64
	Status   Status

	// IfVersion, when non-zero, must equal the entry's current version.
	IfVersion int64
}

// Move changes an entry's parent and/or status. The physical object is copied
// to a collision-free name at the destination and the original removed before
// metadata is updated. If the update fails after the original is gone, the
// error is ErrInconsistentState and nothing is retried.
func (s *MediaService) Move(ctx context.Context, subj Subject, id int64, req MoveRequest) (moved *Entry, err error) {
	const op = "move"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("entry_id", id), attribute.Int64("parent_id", req.ParentID))
	defer func() { endSpan(span, err) }()

	e, err := s.load(ctx, subj, id, ActionEdit, op)
	if err != nil {
		return nil, err
	}
	if req.IfVersion != 0 && req.IfVersion != e.Version {
		return nil, &Error{Code: ErrConflict, Op: op, ID: id, Message: fmt.Sprintf("version %d is stale, current is %d", req.IfVersion, e.Version)}
	}
	status := req.Status
	if status == "" {
		status = e.Status
	}
	if err := s.checkStatus(op, status); err != nil {
		return nil, err
	}
	if req.ParentID == e.ParentID && status == e.Status {
		return e, nil
	}

	parent, err := s.resolveParent(ctx, subj, req.ParentID, e.OwnerID, status, op)
	if err != nil {
		return nil, err
	}
	if err := s.access.Decide(subj, ActionCreate, parent).Err(op, parent.ID); err != nil {
		return nil, err
	}
	if e.IsDir() {
		if err := s.checkNotBelow(ctx, e, parent); err != nil {
			return nil, err
		}
	}

	if req.ParentID == RootID {
		if err := s.fsmgr.MkdirAll(s.paths.BaseDir(e.TenantID, status, e.OwnerID)); err != nil {
			return nil, storageErr(op, id, err, "creating owner root")
		}
	}
	dir, relDir, err := s.paths.TargetDir(e.TenantID, status, e.OwnerID, entryOrNil(parent))
	if err != nil {
		return nil, storageErr(op, id, err, "resolving target directory")
	}

	key := SiblingKey{TenantID: e.TenantID, OwnerID: e.OwnerID, Status: status, ParentID: req.ParentID}
	slug, err := s.uniqueSlug(ctx, key, e.Slug, "")
	if err != nil {
		return nil, err
	}

	oldAbs := s.paths.Abs(e)
	oldDir := filepath.Dir(oldAbs)
	oldName := path.Base(e.RelativePath)

	copyFn := s.fsmgr.CopyFile
	if e.IsDir() {
		copyFn = s.fsmgr.CopyTree
	}
	newName, newAbs, err := s.reserve(dir, oldName, func(dst string) error { return copyFn(oldAbs, dst) })
	if err != nil {
		return nil, storageErr(op, id, err, "copying %s", e.RelativePath)
	}

	derivatives, copied, err := s.copyDerivatives(e, oldDir, oldName, dir, newName)
	if err != nil {
		s.discardCopies(newAbs, dir, copied)
		return nil, storageErr(op, id, err, "copying derivatives of %s", e.RelativePath)
	}

	// The copy is complete; from here on the original goes away.
	if e.IsDir() {
		// A rename is atomic, so a failure here leaves the original whole.
		aside := filepath.Join(oldDir, ".moving-"+s.idgen.New())
		if err := s.fsmgr.Rename(oldAbs, aside); err != nil {
			s.discardCopies(newAbs, dir, copied)
			return nil, storageErr(op, id, err, "removing original %s", e.RelativePath)
		}
		if err := s.fsmgr.RemoveAll(aside); err != nil {
			s.logger.Error("removing moved-away original failed, copy is complete",
				"entry_id", id, "complete_copy", newAbs, "leftover", aside, "error", err)
		}
	} else {
		if err := s.fsmgr.Remove(oldAbs); err != nil {
			s.discardCopies(newAbs, dir, copied)
			return nil, storageErr(op, id, err, "removing original %s", e.RelativePath)
		}
		if err := s.removeDerivatives(oldDir, e.Derivatives); err != nil {
			s.logger.Warn("removing old derivatives failed", "entry_id", id, "error", err)
		}
	}

	rel := path.Join(relDir, newName)
	parentID := req.ParentID
	changes := EntryChanges{
		ParentID:     &parentID,
		Status:       &status,
		RelativePath: &rel,
		Slug:         &slug,
		IfVersion:    e.Version,
	}
	if !e.IsDir() {
		changes.Derivatives = &derivatives
	}
	moved, err = s.store.UpdateEntry(ctx, e.TenantID, id, changes)
	if err != nil {
		return nil, s.inconsistent(op, e, err, "new_path", newAbs)
	}

	s.touch(ctx, e.TenantID, e.ParentID)
	s.touch(ctx, e.TenantID, req.ParentID)

	s.logger.Info("entry moved", "entry_id", id, "from", e.RelativePath, "to", moved.RelativePath, "status", string(status))
	s.emit(ctx, Event{Type: EventEntryMoved, TenantID: e.TenantID, OwnerID: e.OwnerID, ActorID: subj.ID, EntryID: id})
	return moved, nil
}

// checkNotBelow rejects moving dir into itself or one of its descendants.
func (s *MediaService) checkNotBelow(ctx context.Context, dir, parent *Entry) error {
	for p := parent; p != nil && p.ID != RootID; {
		if p.ID == dir.ID {
			return &Error{Code: ErrInvalidParent, Op: "move", ID: parent.ID, Message: "cannot move a directory below itself"}
		}
		if p.ParentID == RootID {
			return nil
		}
		next, err := s.store.GetEntry(ctx, p.TenantID, p.ParentID)
		if err != nil {
			return fmt.Errorf("walking parents of %d: %w", parent.ID, err)
		}
		p = next
	}
	return nil
}

// copyDerivatives copies a file's derivatives next to its new name, keeping
// the naming relation to the file. It returns the new names and what was
// copied so far. Derivatives missing on disk are dropped.
func (s *MediaService) copyDerivatives(e *Entry, oldDir, oldName, newDir, newName string) ([]string, []string, error) {
	if e.IsDir() || len(e.Derivatives) == 0 {
		return nil, nil, nil
	}
	oldStem, _ := SplitExt(oldName)
	newStem, _ := SplitExt(newName)
	var names []string
	for _, d := range e.Derivatives {
		desired := d
		if strings.HasPrefix(d, oldStem) {
			desired = newStem + strings.TrimPrefix(d, oldStem)
		}
		src := filepath.Join(oldDir, d)
		name, _, err := s.reserve(newDir, desired, func(dst string) error { return s.fsmgr.CopyFile(src, dst) })
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("derivative missing, dropping it", "entry_id", e.ID, "name", d)
				continue
			}
			return nil, names, err
		}
		names = append(names, name)
	}
	return names, names, nil
}

func (s *MediaService) discardCopies(abs, dir string, derivatives []string) {
	if err := s.fsmgr.RemoveAll(abs); err != nil {
		s.logger.Warn("removing partial copy failed", "path", abs, "error", err)
	}
	if err := s.removeDerivatives(dir, derivatives); err != nil {
		s.logger.Warn("removing partial derivative copies failed", "dir", dir, "error", err)
	}
}

// Rename changes an entry's title and gives it a matching sibling-unique slug.
// The physical name is left alone: relative paths are fixed at creation.
func (s *MediaService) Rename(ctx context.Context, subj Subject, id int64, title string, ifVersion int64) (renamed *Entry, err error) {
	const op = "rename"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("entry_id", id))
	defer func() { endSpan(span, err) }()

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, NewError(ErrInvalidArgument, op, "title must not be empty")
	}
	e, err := s.load(ctx, subj, id, ActionEdit, op)
	if err != nil {
		return nil, err
	}
	if ifVersion == 0 {
		ifVersion = e.Version
	}

	base := Slugify(title)
	if stem, ext := SplitExt(title); !e.IsDir() && ext != "" && strings.EqualFold(ext, path.Ext(e.RelativePath)) {
		base = Slugify(stem)
	}
	key := SiblingKey{TenantID: e.TenantID, OwnerID: e.OwnerID, Status: e.Status, ParentID: e.ParentID}
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug, err := s.uniqueSlug(ctx, key, base, e.Slug)
		if err != nil {
			return nil, err
		}
		renamed, err = s.store.UpdateEntry(ctx, e.TenantID, id, EntryChanges{Title: &title, Slug: &slug, IfVersion: ifVersion})
		if err == nil {
			s.logger.Info("entry renamed", "entry_id", id, "title", title, "slug", slug)
			return renamed, nil
		}
		if !IsCode(err, ErrDuplicateSlug) {
			return nil, err
		}
	}
	return nil, &Error{Code: ErrDuplicateSlug, Op: op, ID: id, Message: "slug kept being taken concurrently"}
}
