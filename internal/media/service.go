package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("medialib/media")

const (
	// maxReserveAttempts bounds retries when an exclusive create loses a race
	// for a name UniqueName just handed out.
	maxReserveAttempts = 8

	// maxSlugAttempts bounds retries when a concurrent insert takes a slug.
	maxSlugAttempts = 8
)

// MediaService sequences filesystem changes with metadata and ledger updates.
// It is the only component with filesystem side effects. Every operation
// re-checks the access evaluator before it mutates anything.
type MediaService struct {
	store    Store
	ledger   Ledger
	fsmgr    FilesystemManager
	paths    *PathResolver
	access   *Evaluator
	derive   DerivativeGenerator
	events   EventSink
	policy   UploadPolicy
	statuses map[Status]bool
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// Option configures optional collaborators of a MediaService.
type Option func(*MediaService)

// WithDerivatives sets the secondary-representation generator.
func WithDerivatives(g DerivativeGenerator) Option {
	return func(s *MediaService) { s.derive = g }
}

// WithEventSink sets where notifications go.
func WithEventSink(sink EventSink) Option {
	return func(s *MediaService) { s.events = sink }
}

// WithUploadPolicy sets the upload acceptance policy.
func WithUploadPolicy(p UploadPolicy) Option {
	return func(s *MediaService) { s.policy = p }
}

// WithStatuses sets the accepted visibility statuses. Public and private are
// always accepted.
func WithStatuses(statuses ...Status) Option {
	return func(s *MediaService) {
		for _, st := range statuses {
			if st != "" {
				s.statuses[st] = true
			}
		}
	}
}

// NewMediaService creates a new MediaService with the provided dependencies.
func NewMediaService(store Store, ledger Ledger, fsmgr FilesystemManager, paths *PathResolver, access *Evaluator, logger Logger, clock Clock, idgen IDGenerator, opts ...Option) *MediaService {
	s := &MediaService{
		store:    store,
		ledger:   ledger,
		fsmgr:    fsmgr,
		paths:    paths,
		access:   access,
		derive:   NopDerivatives{},
		events:   NopSink{},
		policy:   PermissivePolicy{},
		statuses: map[Status]bool{StatusPublic: true, StatusPrivate: true},
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Paths exposes the resolver, e.g. for printing URLs.
func (s *MediaService) Paths() *PathResolver {
	return s.paths
}

func (s *MediaService) startSpan(ctx context.Context, name string, subj Subject, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.Int64("tenant_id", subj.TenantID),
		attribute.Int64("subject_id", subj.ID),
	)
	return tracer.Start(ctx, "media."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *MediaService) checkStatus(op string, st Status) error {
	if !s.statuses[st] {
		return NewError(ErrInvalidArgument, op, "unknown visibility status %q", st)
	}
	return nil
}

// rootOf stands in for the record-less ROOT directory of a subtree so the
// evaluator can apply ownership rules to it.
func rootOf(tenantID, ownerID int64, status Status) *Entry {
	return &Entry{ID: RootID, TenantID: tenantID, OwnerID: ownerID, Kind: KindDirectory, Status: status}
}

// canSee reports whether subj may know that e exists.
func (s *MediaService) canSee(subj Subject, e *Entry) bool {
	return s.access.Decide(subj, ActionRead, e).Allowed
}

// load fetches an entry and authorizes action on it. Entries the subject may
// not even read are reported as NotFound so their existence does not leak.
func (s *MediaService) load(ctx context.Context, subj Subject, id int64, action Action, op string) (*Entry, error) {
	if id == RootID {
		return nil, NewError(ErrInvalidArgument, op, "the root is not an entry")
	}
	e, err := s.store.GetEntry(ctx, subj.TenantID, id)
	if err != nil {
		if IsCode(err, ErrNotFound) {
			return nil, notFound(op, id)
		}
		return nil, fmt.Errorf("loading entry %d: %w", id, err)
	}
	if !e.Status.IsPublic() && !s.canSee(subj, e) {
		return nil, notFound(op, id)
	}
	if err := s.access.Decide(subj, action, e).Err(op, id); err != nil {
		return nil, err
	}
	return e, nil
}

// resolveParent loads and validates the directory new children go into. A
// missing, hidden or mismatched parent is InvalidParent. It returns the
// synthetic root for RootID.
func (s *MediaService) resolveParent(ctx context.Context, subj Subject, parentID, ownerID int64, status Status, op string) (*Entry, error) {
	if parentID == RootID {
		return rootOf(subj.TenantID, ownerID, status), nil
	}
	parent, err := s.store.GetEntry(ctx, subj.TenantID, parentID)
	if err != nil {
		if IsCode(err, ErrNotFound) {
			return nil, &Error{Code: ErrInvalidParent, Op: op, ID: parentID, Message: "parent does not exist"}
		}
		return nil, fmt.Errorf("loading parent %d: %w", parentID, err)
	}
	if !parent.Status.IsPublic() && !s.canSee(subj, parent) {
		return nil, &Error{Code: ErrInvalidParent, Op: op, ID: parentID, Message: "parent does not exist"}
	}
	if !parent.IsDir() {
		return nil, &Error{Code: ErrInvalidParent, Op: op, ID: parentID, Message: "parent is not a directory"}
	}
	if parent.OwnerID != ownerID || parent.Status != status {
		return nil, &Error{Code: ErrInvalidParent, Op: op, ID: parentID, Message: "parent belongs to a different owner or status"}
	}
	return parent, nil
}

// ownerFor picks the owner of a new entry: the requested owner, else the
// parent's owner, else the subject.
func (s *MediaService) ownerFor(ctx context.Context, subj Subject, requested, parentID int64) int64 {
	if requested != 0 {
		return requested
	}
	if parentID != RootID {
		if parent, err := s.store.GetEntry(ctx, subj.TenantID, parentID); err == nil {
			return parent.OwnerID
		}
	}
	return subj.ID
}

// uniqueSlug returns base or base-N, the first not used by a sibling. own is
// the slug the entry itself holds, which never counts as taken.
func (s *MediaService) uniqueSlug(ctx context.Context, key SiblingKey, base, own string) (string, error) {
	for i := 0; i < maxUniqueAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + "-" + strconv.Itoa(i)
		}
		if candidate == own {
			return candidate, nil
		}
		taken, err := s.store.SlugTaken(ctx, key, candidate)
		if err != nil {
			return "", fmt.Errorf("checking slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", &Error{Code: ErrDuplicateSlug, Message: fmt.Sprintf("no free slug for %q", base)}
}

// createEntry inserts draft under a sibling-unique slug derived from
// draft.Slug, retrying when a concurrent insert takes the slug first.
func (s *MediaService) createEntry(ctx context.Context, draft EntryDraft) (*Entry, error) {
	key := SiblingKey{TenantID: draft.TenantID, OwnerID: draft.OwnerID, Status: draft.Status, ParentID: draft.ParentID}
	base := draft.Slug
	var lastErr error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug, err := s.uniqueSlug(ctx, key, base, "")
		if err != nil {
			return nil, err
		}
		draft.Slug = slug
		e, err := s.store.CreateEntry(ctx, draft)
		if err == nil {
			return e, nil
		}
		if !IsCode(err, ErrDuplicateSlug) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("slug taken concurrently, retrying", "slug", slug)
	}
	return nil, lastErr
}

func (s *MediaService) emit(ctx context.Context, ev Event) {
	ev.ID = s.idgen.New()
	ev.OccurredAt = s.clock.Now()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing event failed", "type", string(ev.Type), "entry_id", ev.EntryID, "error", err)
	}
}

func (s *MediaService) emitLedger(ctx context.Context, subj Subject, tenantID, ownerID, deltaKB int64) {
	if deltaKB == 0 {
		return
	}
	s.emit(ctx, Event{Type: EventLedgerAdjusted, TenantID: tenantID, OwnerID: ownerID, ActorID: subj.ID, DeltaKB: deltaKB})
}

// touch bumps a directory's modified time. Failures only cost sort order.
func (s *MediaService) touch(ctx context.Context, tenantID, id int64) {
	if id == RootID {
		return
	}
	if err := s.store.TouchEntry(ctx, tenantID, id); err != nil && !IsCode(err, ErrNotFound) {
		s.logger.Warn("touching directory failed", "entry_id", id, "error", err)
	}
}

// inconsistent reports a state where disk and metadata disagree. It is
// always logged at error level and never retried.
func (s *MediaService) inconsistent(op string, e *Entry, cause error, args ...any) error {
	args = append([]any{"op", op, "entry_id", e.ID, "tenant_id", e.TenantID, "owner_id", e.OwnerID, "status", string(e.Status), "relative_path", e.RelativePath, "error", cause}, args...)
	s.logger.Error("metadata and storage disagree, operator action required", args...)
	return &Error{Code: ErrInconsistentState, Op: op, ID: e.ID, Message: "storage changed but metadata could not be updated", Err: cause}
}

func storageErr(op string, id int64, err error, format string, args ...any) error {
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	e := WrapError(ErrStorageIO, op, err, format, args...)
	e.ID = id
	return e
}
