package media

import "context"

// Store persists entry metadata and enforces the tree invariants that do not
// involve the filesystem. It never touches disk content; the service does that
// and calls the store to record the outcome.
//
// Every call is scoped to a tenant. An entry of another tenant is NotFound.
type Store interface {
	// CreateEntry validates the parent (exists, is a directory, same tenant,
	// owner and status) and sibling slug uniqueness, then inserts the entry.
	// The parent's modified time is bumped. Fails with ErrInvalidParent or
	// ErrDuplicateSlug.
	CreateEntry(ctx context.Context, draft EntryDraft) (*Entry, error)

	// GetEntry returns the entry or ErrNotFound.
	GetEntry(ctx context.Context, tenantID, id int64) (*Entry, error)

	// ListChildren returns one page of entries matching q, ordered by q.Order
	// with id ascending as the tie-break.
	ListChildren(ctx context.Context, q ListQuery) ([]*Entry, error)

	// UpdateEntry applies changes. Placement changes (parent, slug, status) are
	// re-validated. When a directory's relative path or status changes, every
	// descendant is rewritten in the same transaction. Fails with ErrConflict
	// when changes.IfVersion is stale.
	UpdateEntry(ctx context.Context, tenantID, id int64, changes EntryChanges) (*Entry, error)

	// TouchEntry bumps the modified time of a directory. RootID is a no-op.
	TouchEntry(ctx context.Context, tenantID, id int64) error

	// DeleteEntry removes one record. Directories with children are refused
	// with ErrNotEmpty; the store never cascades.
	DeleteEntry(ctx context.Context, tenantID, id int64) error

	// Descendants returns every entry below id, parents before children.
	Descendants(ctx context.Context, tenantID, id int64) ([]*Entry, error)

	// FindBySlug resolves a permalink slug within an owner's subtrees.
	// Fails with ErrNotFound or ErrAmbiguousSlug.
	FindBySlug(ctx context.Context, tenantID, ownerID int64, statuses []Status, slug string) (*Entry, error)

	// SlugTaken reports whether a sibling already uses slug.
	SlugTaken(ctx context.Context, key SiblingKey, slug string) (bool, error)
}
