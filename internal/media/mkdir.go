package media

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// MakeDirectoryRequest describes a new directory.
type MakeDirectoryRequest struct {
	ParentID int64
	Status   Status
	Name     string
	Title    string // defaults to Name
	OwnerID  int64  // see UploadRequest.OwnerID
}

// MakeDirectory creates a physical directory and its entry. The owner's root
// for the status is created first if needed.
func (s *MediaService) MakeDirectory(ctx context.Context, subj Subject, req MakeDirectoryRequest) (entry *Entry, err error) {
	const op = "mkdir"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("parent_id", req.ParentID), attribute.String("name", req.Name))
	defer func() { endSpan(span, err) }()

	if err := s.access.Decide(subj, ActionCreate, nil).Err(op, 0); err != nil {
		return nil, err
	}
	if err := s.checkStatus(op, req.Status); err != nil {
		return nil, err
	}
	name := SanitizeName(req.Name)
	if name == "" {
		return nil, NewError(ErrInvalidArgument, op, "invalid directory name %q", req.Name)
	}

	owner := s.ownerFor(ctx, subj, req.OwnerID, req.ParentID)
	parent, err := s.resolveParent(ctx, subj, req.ParentID, owner, req.Status, op)
	if err != nil {
		return nil, err
	}
	if err := s.access.Decide(subj, ActionCreate, parent).Err(op, parent.ID); err != nil {
		return nil, err
	}

	if err := s.fsmgr.MkdirAll(s.paths.BaseDir(subj.TenantID, req.Status, owner)); err != nil {
		return nil, storageErr(op, 0, err, "creating owner root")
	}
	dir, relDir, err := s.paths.TargetDir(subj.TenantID, req.Status, owner, entryOrNil(parent))
	if err != nil {
		return nil, storageErr(op, parent.ID, err, "resolving target directory")
	}
	finalName, finalPath, err := s.reserve(dir, name, s.fsmgr.Mkdir)
	if err != nil {
		return nil, storageErr(op, 0, err, "creating directory")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = name
	}
	entry, err = s.createEntry(ctx, EntryDraft{
		TenantID:     subj.TenantID,
		OwnerID:      owner,
		Kind:         KindDirectory,
		Title:        title,
		Slug:         Slugify(finalName),
		ParentID:     req.ParentID,
		Status:       req.Status,
		RelativePath: path.Join(relDir, finalName),
	})
	if err != nil {
		if rmErr := s.fsmgr.Remove(finalPath); rmErr != nil {
			s.logger.Error("rolling back directory failed", "path", finalPath, "error", rmErr)
		}
		return nil, fmt.Errorf("recording directory: %w", err)
	}

	s.logger.Info("directory created", "entry_id", entry.ID, "owner_id", owner, "path", entry.RelativePath)
	s.emit(ctx, Event{Type: EventEntryCreated, TenantID: entry.TenantID, OwnerID: owner, ActorID: subj.ID, EntryID: entry.ID})
	return entry, nil
}
