package media

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// sniffLen is how much of an upload the policy sees for type detection.
const sniffLen = 3072

// UploadRequest describes a file upload.
type UploadRequest struct {
	ParentID int64
	Status   Status
	Name     string
	Title    string // defaults to Name
	Body     io.Reader

	// OwnerID uploads on behalf of another user (administrators only). Zero
	// means the parent's owner, or the subject for ROOT.
	OwnerID int64

	// Size, when positive, is the declared length of Body.
	Size int64

	// Checksum, when set, is the hex SHA-256 of Body.
	Checksum string
}

// UploadResult is the outcome of an upload or a derivative regeneration.
type UploadResult struct {
	Entry   *Entry
	DeltaKB int64

	// Warnings describe non-fatal failures, e.g. derivatives that could not be
	// generated.
	Warnings []string
}

// Upload stores a new file and records it. The body is streamed into a
// temporary file next to a reserved name and only renamed over the
// reservation once size and checksum have been verified, so a rejected or
// cancelled upload leaves neither an entry nor a partial file behind.
func (s *MediaService) Upload(ctx context.Context, subj Subject, req UploadRequest) (res *UploadResult, err error) {
	const op = "upload"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("parent_id", req.ParentID), attribute.String("name", req.Name))
	defer func() { endSpan(span, err) }()

	if err := s.access.Decide(subj, ActionCreate, nil).Err(op, 0); err != nil {
		return nil, err
	}
	if err := s.checkStatus(op, req.Status); err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, NewError(ErrInvalidArgument, op, "empty request body")
	}
	name := SanitizeName(req.Name)
	if name == "" {
		return nil, NewError(ErrInvalidArgument, op, "invalid file name %q", req.Name)
	}
	if err := s.policy.CheckName(name); err != nil {
		return nil, WrapError(ErrInvalidArgument, op, err, "file name %q rejected", name)
	}
	if limit := s.policy.MaxBytes(); limit > 0 && req.Size > limit {
		return nil, NewError(ErrInvalidArgument, op, "upload of %d bytes exceeds the limit of %d", req.Size, limit)
	}

	owner := s.ownerFor(ctx, subj, req.OwnerID, req.ParentID)
	parent, err := s.resolveParent(ctx, subj, req.ParentID, owner, req.Status, op)
	if err != nil {
		return nil, err
	}
	if err := s.access.Decide(subj, ActionCreate, parent).Err(op, parent.ID); err != nil {
		return nil, err
	}

	if req.ParentID == RootID {
		if err := s.fsmgr.MkdirAll(s.paths.BaseDir(subj.TenantID, req.Status, owner)); err != nil {
			return nil, storageErr(op, 0, err, "creating owner root")
		}
	}
	dir, relDir, err := s.paths.TargetDir(subj.TenantID, req.Status, owner, entryOrNil(parent))
	if err != nil {
		return nil, storageErr(op, parent.ID, err, "resolving target directory")
	}

	body := bufio.NewReaderSize(req.Body, sniffLen)
	head, err := body.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, WrapError(ErrStorageIO, op, err, "reading upload")
	}
	mimeType, err := s.policy.DetectType(name, head)
	if err != nil {
		return nil, WrapError(ErrInvalidArgument, op, err, "file type rejected")
	}

	finalName, finalPath, err := s.reserve(dir, name, s.fsmgr.CreateExclusive)
	if err != nil {
		return nil, storageErr(op, 0, err, "reserving file name")
	}
	size, err := s.receive(ctx, op, dir, finalPath, body, req)
	if err != nil {
		if rmErr := s.fsmgr.Remove(finalPath); rmErr != nil {
			s.logger.Warn("removing reserved name failed", "path", finalPath, "error", rmErr)
		}
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = name
	}
	entry, err := s.createEntry(ctx, EntryDraft{
		TenantID:     subj.TenantID,
		OwnerID:      owner,
		Kind:         KindFile,
		Title:        title,
		Slug:         FileSlug(finalName),
		ParentID:     req.ParentID,
		Status:       req.Status,
		RelativePath: path.Join(relDir, finalName),
		MimeType:     mimeType,
		ByteSize:     size,
	})
	if err != nil {
		if rmErr := s.fsmgr.Remove(finalPath); rmErr != nil {
			s.logger.Error("rolling back uploaded file failed", "path", finalPath, "error", rmErr)
		}
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	delta, err := s.ledger.Charge(ctx, subj.TenantID, owner, size)
	if err != nil {
		s.rollbackCreate(ctx, entry, finalPath)
		return nil, fmt.Errorf("charging disk usage: %w", err)
	}

	res = &UploadResult{Entry: entry, DeltaKB: delta}
	s.generateDerivatives(ctx, res, finalPath)

	s.logger.Info("file uploaded", "entry_id", entry.ID, "owner_id", owner, "path", entry.RelativePath, "bytes", size)
	s.emit(ctx, Event{Type: EventEntryCreated, TenantID: entry.TenantID, OwnerID: owner, ActorID: subj.ID, EntryID: entry.ID})
	s.emitLedger(ctx, subj, entry.TenantID, owner, delta)
	return res, nil
}

// entryOrNil maps the synthetic root back to nil for the resolver.
func entryOrNil(e *Entry) *Entry {
	if e == nil || e.ID == RootID {
		return nil
	}
	return e
}

// reserve claims a collision-free name in dir with create, which must fail
// with fs.ErrExist when the name is taken.
func (s *MediaService) reserve(dir, desired string, create func(string) error) (string, string, error) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		name, err := s.paths.UniqueName(dir, desired)
		if err != nil {
			return "", "", err
		}
		full := filepath.Join(dir, name)
		err = create(full)
		if err == nil {
			return name, full, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
		s.logger.Debug("name taken concurrently, retrying", "path", full)
	}
	return "", "", fmt.Errorf("no free name for %q in %s after %d attempts", desired, dir, maxReserveAttempts)
}

// receive streams body into a temp file in dir, verifies it against req and
// renames it over finalPath. Nothing is left behind on failure.
func (s *MediaService) receive(ctx context.Context, op, dir, finalPath string, body io.Reader, req UploadRequest) (int64, error) {
	tmp, err := s.fsmgr.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, storageErr(op, 0, err, "creating temporary file")
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			tmp.Close()
			if err := s.fsmgr.Remove(tmpPath); err != nil {
				s.logger.Warn("removing temporary upload failed", "path", tmpPath, "error", err)
			}
		}
	}()

	var src io.Reader = &ctxReader{ctx: ctx, r: body}
	limit := s.policy.MaxBytes()
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("upload interrupted: %w", ctxErr)
		}
		return 0, storageErr(op, 0, err, "writing upload")
	}
	if limit > 0 && n > limit {
		return 0, NewError(ErrInvalidArgument, op, "upload exceeds the limit of %d bytes", limit)
	}
	if req.Size > 0 && n != req.Size {
		return 0, NewError(ErrIntegrityMismatch, op, "received %d bytes, expected %d", n, req.Size)
	}
	if req.Checksum != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, strings.TrimSpace(req.Checksum)) {
			return 0, NewError(ErrIntegrityMismatch, op, "checksum %s does not match %s", sum, req.Checksum)
		}
	}
	if err := tmp.Sync(); err != nil {
		return 0, storageErr(op, 0, err, "syncing upload")
	}
	if err := tmp.Close(); err != nil {
		return 0, storageErr(op, 0, err, "closing upload")
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("upload interrupted: %w", err)
	}
	if err := s.fsmgr.Rename(tmpPath, finalPath); err != nil {
		return 0, storageErr(op, 0, err, "moving upload into place")
	}
	keep = true
	return n, nil
}

// rollbackCreate undoes a create whose follow-up step failed.
func (s *MediaService) rollbackCreate(ctx context.Context, e *Entry, absPath string) {
	if err := s.store.DeleteEntry(ctx, e.TenantID, e.ID); err != nil {
		s.logger.Error("rolling back entry failed", "entry_id", e.ID, "error", err)
		return
	}
	if err := s.fsmgr.RemoveAll(absPath); err != nil {
		s.logger.Error("rolling back physical object failed", "entry_id", e.ID, "path", absPath, "error", err)
	}
}

// generateDerivatives runs the generator and records what it produced. Every
// failure becomes a warning on res.
func (s *MediaService) generateDerivatives(ctx context.Context, res *UploadResult, absPath string) {
	e := res.Entry
	names, err := s.derive.Generate(ctx, absPath, e.MimeType)
	if err != nil {
		s.logger.Warn("generating derivatives failed", "entry_id", e.ID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("derivatives not generated: %v", err))
	}
	if len(names) == 0 && len(e.Derivatives) == 0 {
		return
	}
	updated, err := s.store.UpdateEntry(ctx, e.TenantID, e.ID, EntryChanges{Derivatives: &names, IfVersion: e.Version})
	if err != nil {
		s.logger.Warn("recording derivatives failed", "entry_id", e.ID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("derivatives not recorded: %v", err))
		s.removeDerivatives(filepath.Dir(absPath), names)
		return
	}
	res.Entry = updated
}

func (s *MediaService) removeDerivatives(dir string, names []string) error {
	var errs []error
	for _, name := range names {
		if err := s.fsmgr.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ctxReader fails reads once ctx is done so an abandoned upload stops early.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
