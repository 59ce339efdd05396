package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"go.opentelemetry.io/otel/attribute"
)

// Get returns an entry the subject may read.
func (s *MediaService) Get(ctx context.Context, subj Subject, id int64) (*Entry, error) {
	return s.load(ctx, subj, id, ActionRead, "get")
}

// List returns one page of entries. The tenant is always the subject's.
// Subjects that may not read other owners' private entries only see public
// entries of other owners, so a private-only filter on another owner yields
// an empty page.
func (s *MediaService) List(ctx context.Context, subj Subject, q ListQuery) (entries []*Entry, err error) {
	const op = "list"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("owner_id", q.OwnerID))
	defer func() { endSpan(span, err) }()

	if err := s.access.Decide(subj, ActionList, nil).Err(op, 0); err != nil {
		return nil, err
	}
	if q.Order != "" && !q.Order.Valid() {
		return nil, NewError(ErrInvalidArgument, op, "unknown ordering %q", q.Order)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, NewError(ErrInvalidArgument, op, "offset and limit must not be negative")
	}
	q.TenantID = subj.TenantID
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}

	admin := s.access.Decide(subj, ActionReadPrivateOthers, nil).Allowed
	if !admin && q.OwnerID != subj.ID {
		q.Statuses, err = publicOnly(q.Statuses)
		if errors.Is(err, errNothingVisible) {
			return []*Entry{}, nil
		}
		if err != nil {
			return nil, err
		}
	}

	entries, err = s.store.ListChildren(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

var errNothingVisible = errors.New("no visible status requested")

// publicOnly narrows a status filter to public entries.
func publicOnly(requested []Status) ([]Status, error) {
	if len(requested) == 0 {
		return []Status{StatusPublic}, nil
	}
	for _, st := range requested {
		if st.IsPublic() {
			return []Status{st}, nil
		}
	}
	return nil, errNothingVisible
}

// FindBySlug resolves a permalink slug within one owner's subtrees.
func (s *MediaService) FindBySlug(ctx context.Context, subj Subject, ownerID int64, statuses []Status, slug string) (*Entry, error) {
	const op = "find"
	if err := s.access.Decide(subj, ActionRead, nil).Err(op, 0); err != nil {
		return nil, err
	}
	if ownerID != subj.ID && !s.access.Decide(subj, ActionReadPrivateOthers, nil).Allowed {
		var err error
		if statuses, err = publicOnly(statuses); err != nil {
			return nil, &Error{Code: ErrNotFound, Op: op, Message: fmt.Sprintf("no entry with slug %q", slug)}
		}
	}
	if len(statuses) == 0 {
		for st := range s.statuses {
			statuses = append(statuses, st)
		}
	}
	e, err := s.store.FindBySlug(ctx, subj.TenantID, ownerID, statuses, slug)
	if err != nil {
		return nil, err
	}
	if !s.canSee(subj, e) {
		return nil, &Error{Code: ErrNotFound, Op: op, Message: fmt.Sprintf("no entry with slug %q", slug)}
	}
	return e, nil
}

// Embed returns a single entry for read-only rendering. Public entries are
// available to anyone, including anonymous subjects.
func (s *MediaService) Embed(ctx context.Context, subj Subject, id int64) (*Entry, error) {
	const op = "embed"
	e, err := s.store.GetEntry(ctx, subj.TenantID, id)
	if err != nil {
		if IsCode(err, ErrNotFound) {
			return nil, notFound(op, id)
		}
		return nil, fmt.Errorf("loading entry %d: %w", id, err)
	}
	d := s.access.Decide(subj, ActionEmbed, e)
	if !d.Allowed {
		if !e.Status.IsPublic() {
			return nil, notFound(op, id)
		}
		return nil, d.Err(op, id)
	}
	return e, nil
}

// Open streams the content of a file the subject may read.
func (s *MediaService) Open(ctx context.Context, subj Subject, id int64) (io.ReadCloser, *Entry, error) {
	const op = "open"
	e, err := s.load(ctx, subj, id, ActionRead, op)
	if err != nil {
		return nil, nil, err
	}
	if e.IsDir() {
		return nil, nil, &Error{Code: ErrInvalidArgument, Op: op, ID: id, Message: "entry is a directory"}
	}
	rc, err := s.fsmgr.Open(s.paths.Abs(e))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("file of live entry is missing", "entry_id", id, "path", e.RelativePath)
		}
		return nil, nil, storageErr(op, id, err, "opening %s", e.RelativePath)
	}
	return rc, e, nil
}

// Usage returns an owner's disk usage in kilobytes. Subjects may query their
// own usage; other owners need administrative rights.
func (s *MediaService) Usage(ctx context.Context, subj Subject, ownerID int64) (int64, error) {
	const op = "usage"
	if ownerID == 0 {
		ownerID = subj.ID
	}
	if err := s.access.Decide(subj, ActionRead, rootOf(subj.TenantID, ownerID, StatusPrivate)).Err(op, 0); err != nil {
		return 0, err
	}
	kb, err := s.ledger.Usage(ctx, subj.TenantID, ownerID)
	if err != nil {
		return 0, fmt.Errorf("reading usage of %d: %w", ownerID, err)
	}
	return kb, nil
}
