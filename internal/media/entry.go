package media

import (
	"fmt"
	"time"
)

// RootID is the parent sentinel for entries at the top of an owner's subtree.
// There is one root per (tenant, owner, status); it has no record of its own.
const RootID int64 = 0

// MainTenant is the tenant of a single-site deployment.
const MainTenant int64 = 1

// Kind discriminates files from directories. It never changes after creation.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindDirectory
}

// Status is the visibility status of an entry. It selects both the access policy
// and the physical storage subtree. Public and private are built in; deployments
// may configure more, and every status other than public is owner/admin only.
type Status string

const (
	StatusPublic  Status = "public"
	StatusPrivate Status = "private"
)

// IsPublic reports whether entries with this status are readable by everyone
// who meets the minimum capability.
func (s Status) IsPublic() bool {
	return s == StatusPublic
}

// Entry is one node in a user's media tree.
type Entry struct {
	ID       int64
	TenantID int64
	OwnerID  int64
	Kind     Kind
	Title    string
	Slug     string
	ParentID int64
	Status   Status

	// RelativePath is slash-separated and relative to
	// PathResolver.BaseDir(TenantID, Status, OwnerID).
	RelativePath string

	// File-only fields.
	MimeType    string
	ByteSize    int64
	Derivatives []string // file names next to the file

	Version    int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IsDir returns true for directory entries.
func (e *Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// String is used in log lines.
func (e *Entry) String() string {
	return fmt.Sprintf("%s#%d(%s/%d:%s)", e.Kind, e.ID, e.Status, e.OwnerID, e.RelativePath)
}

// EntryDraft holds the fields needed to create an entry. The store assigns the
// ID, timestamps and version.
type EntryDraft struct {
	TenantID     int64
	OwnerID      int64
	Kind         Kind
	Title        string
	Slug         string
	ParentID     int64
	Status       Status
	RelativePath string
	MimeType     string
	ByteSize     int64
	Derivatives  []string
}

// EntryChanges describes an update. Nil fields are left untouched.
type EntryChanges struct {
	Title        *string
	Slug         *string
	Status       *Status
	ParentID     *int64
	RelativePath *string
	Derivatives  *[]string

	// IfVersion, when non-zero, makes the update fail with Conflict unless the
	// stored version still matches.
	IfVersion int64
}

// SiblingKey identifies a set of siblings: everything sharing a parent within one
// owner's subtree for one status.
type SiblingKey struct {
	TenantID int64
	OwnerID  int64
	Status   Status
	ParentID int64
}

// Ordering selects the sort order of a listing. Every ordering breaks ties by
// id ascending so pages stay stable under concurrent writes.
type Ordering string

const (
	OrderModifiedDesc Ordering = "modified"
	OrderCreatedDesc  Ordering = "created"
	OrderTitleAsc     Ordering = "title"
	OrderRelevance    Ordering = "relevance"
)

// Valid reports whether o is a known ordering.
func (o Ordering) Valid() bool {
	switch o {
	case OrderModifiedDesc, OrderCreatedDesc, OrderTitleAsc, OrderRelevance:
		return true
	}
	return false
}

// ListQuery carries the listing filters the transport layer passes through.
// Zero values mean "no filter" except TenantID, which is always required.
type ListQuery struct {
	TenantID  int64
	ParentIDs []int64
	OwnerID   int64
	Statuses  []Status
	Kind      Kind
	Search    string
	Order     Ordering
	Offset    int
	Limit     int
}

// DefaultListLimit is used when a query does not set a limit.
const DefaultListLimit = 100
