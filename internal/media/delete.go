package media

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
)

// DeleteResult lists what a delete removed, including partial progress when
// the cascade stopped on an error.
type DeleteResult struct {
	DeletedIDs []int64
	ReleasedKB int64
}

// Delete removes an entry. Directories cascade: descendants are removed
// children first, so no record ever points at a deleted parent. Each record is
// only dropped after its physical object is confirmed gone; an object that is
// already missing counts as gone.
func (s *MediaService) Delete(ctx context.Context, subj Subject, id int64) (res *DeleteResult, err error) {
	const op = "delete"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("entry_id", id))
	defer func() { endSpan(span, err) }()

	e, err := s.load(ctx, subj, id, ActionDelete, op)
	if err != nil {
		return nil, err
	}

	batch := []*Entry{e}
	if e.IsDir() {
		descendants, err := s.store.Descendants(ctx, e.TenantID, e.ID)
		if err != nil {
			return nil, fmt.Errorf("listing descendants of %d: %w", e.ID, err)
		}
		batch = append(batch, descendants...)
	}

	res = &DeleteResult{}
	defer func() {
		s.emitDeleted(ctx, subj, e, res)
	}()

	// Descendants come parents first; walk backwards for children first.
	for i := len(batch) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("delete interrupted: %w", err)
		}
		released, err := s.deleteOne(ctx, op, batch[i])
		if err != nil {
			return res, err
		}
		res.DeletedIDs = append(res.DeletedIDs, batch[i].ID)
		res.ReleasedKB += released
	}

	s.touch(ctx, e.TenantID, e.ParentID)
	s.logger.Info("entry deleted", "entry_id", e.ID, "kind", string(e.Kind), "cascade", len(res.DeletedIDs)-1, "released_kb", res.ReleasedKB)
	return res, nil
}

// deleteOne removes a single entry whose children are already gone and returns
// the kilobytes released.
func (s *MediaService) deleteOne(ctx context.Context, op string, e *Entry) (int64, error) {
	abs := s.paths.Abs(e)
	if e.IsDir() {
		if err := s.fsmgr.RemoveAll(abs); err != nil {
			return 0, storageErr(op, e.ID, err, "removing directory %s", e.RelativePath)
		}
	} else {
		if err := s.fsmgr.Remove(abs); err != nil {
			return 0, storageErr(op, e.ID, err, "removing file %s", e.RelativePath)
		}
		if err := s.removeDerivatives(filepath.Dir(abs), e.Derivatives); err != nil {
			return 0, storageErr(op, e.ID, err, "removing derivatives of %s", e.RelativePath)
		}
	}

	if err := s.store.DeleteEntry(ctx, e.TenantID, e.ID); err != nil && !IsCode(err, ErrNotFound) {
		return 0, fmt.Errorf("deleting entry %d: %w", e.ID, err)
	}

	if e.IsDir() {
		return 0, nil
	}
	delta, err := s.ledger.Release(ctx, e.TenantID, e.OwnerID, e.ByteSize)
	if err != nil {
		// The entry is gone already; a drifting total heals through clamping.
		s.logger.Error("releasing disk usage failed", "entry_id", e.ID, "owner_id", e.OwnerID, "bytes", e.ByteSize, "error", err)
		return 0, nil
	}
	return -delta, nil
}

func (s *MediaService) emitDeleted(ctx context.Context, subj Subject, root *Entry, res *DeleteResult) {
	if len(res.DeletedIDs) == 0 {
		return
	}
	s.emit(ctx, Event{
		Type:       EventEntryDeleted,
		TenantID:   root.TenantID,
		OwnerID:    root.OwnerID,
		ActorID:    subj.ID,
		EntryID:    root.ID,
		CascadeIDs: res.DeletedIDs,
	})
	s.emitLedger(ctx, subj, root.TenantID, root.OwnerID, -res.ReleasedKB)
}
