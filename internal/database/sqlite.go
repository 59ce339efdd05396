package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"medialib/internal/database/migrations"
	"medialib/internal/media"
)

// SQLiteDatabase is the metadata store: entries, the operation log and, when
// configured, the disk usage ledger.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *Queries
	path    string
	clock   media.Clock
}

// Operation is one recorded CLI invocation that may have changed metadata.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// NewSQLiteDatabase opens the database at path (":memory:" for an in-memory
// database) and brings its schema up to date. A nil clock means RealClock.
func NewSQLiteDatabase(path string, clock media.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock media.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = media.RealClock{}
	}
	return &SQLiteDatabase{
		db:      db,
		queries: NewQueries(db),
		path:    path,
		clock:   clock,
	}
}

// OpenConnection opens and configures a SQLite connection pool. Writers take
// the lock when their transaction begins, and wait for each other instead of
// failing with SQLITE_BUSY.
func OpenConnection(path string) (*sql.DB, error) {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		params += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite3", path+sep+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// inTx runs fn in a transaction. fn must only use the queries it is given:
// in-memory databases have a single connection.
func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func getEntry(ctx context.Context, q *Queries, op string, tenantID, id int64) (*media.Entry, error) {
	e, err := q.GetEntry(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &media.Error{Code: media.ErrNotFound, Op: op, ID: id, Message: "entry does not exist"}
		}
		return nil, fmt.Errorf("loading entry %d: %w", id, err)
	}
	return e, nil
}

// checkParent enforces that children live in a directory of the same tenant,
// owner and status.
func checkParent(ctx context.Context, q *Queries, op string, tenantID, parentID, ownerID int64, status media.Status) (*media.Entry, error) {
	if parentID == media.RootID {
		return nil, nil
	}
	parent, err := q.GetEntry(ctx, tenantID, parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &media.Error{Code: media.ErrInvalidParent, Op: op, ID: parentID, Message: "parent does not exist"}
	}
	if err != nil {
		return nil, fmt.Errorf("loading parent %d: %w", parentID, err)
	}
	if !parent.IsDir() {
		return nil, &media.Error{Code: media.ErrInvalidParent, Op: op, ID: parentID, Message: "parent is not a directory"}
	}
	if parent.OwnerID != ownerID || parent.Status != status {
		return nil, &media.Error{Code: media.ErrInvalidParent, Op: op, ID: parentID, Message: "parent belongs to a different owner or status"}
	}
	return parent, nil
}

func duplicateSlug(op, slug string, id int64) error {
	return &media.Error{Code: media.ErrDuplicateSlug, Op: op, ID: id, Message: fmt.Sprintf("slug %q is used by a sibling", slug)}
}

// Entry operations

func (s *SQLiteDatabase) CreateEntry(ctx context.Context, d media.EntryDraft) (*media.Entry, error) {
	const op = "create_entry"
	if !d.Kind.Valid() {
		return nil, media.NewError(media.ErrInvalidArgument, op, "unknown kind %q", d.Kind)
	}
	if d.Slug == "" || d.Status == "" || d.RelativePath == "" {
		return nil, media.NewError(media.ErrInvalidArgument, op, "slug, status and relative path are required")
	}
	derivs, err := encodeDerivatives(d.Derivatives)
	if err != nil {
		return nil, err
	}

	var created *media.Entry
	err = s.inTx(ctx, func(q *Queries) error {
		if _, err := checkParent(ctx, q, op, d.TenantID, d.ParentID, d.OwnerID, d.Status); err != nil {
			return err
		}
		key := media.SiblingKey{TenantID: d.TenantID, OwnerID: d.OwnerID, Status: d.Status, ParentID: d.ParentID}
		taken, err := q.SlugTaken(ctx, key, d.Slug, 0)
		if err != nil {
			return fmt.Errorf("checking slug: %w", err)
		}
		if taken {
			return duplicateSlug(op, d.Slug, 0)
		}

		now := s.clock.Now()
		id, err := q.InsertEntry(ctx, InsertEntryParams{Draft: d, Derivatives: derivs, Now: now})
		if err != nil {
			if isUniqueViolation(err) {
				return duplicateSlug(op, d.Slug, 0)
			}
			return fmt.Errorf("inserting entry: %w", err)
		}
		if d.ParentID != media.RootID {
			if _, err := q.TouchEntry(ctx, d.TenantID, d.ParentID, now); err != nil {
				return fmt.Errorf("touching parent: %w", err)
			}
		}
		created, err = getEntry(ctx, q, op, d.TenantID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLiteDatabase) GetEntry(ctx context.Context, tenantID, id int64) (*media.Entry, error) {
	return getEntry(ctx, s.queries, "get_entry", tenantID, id)
}

func (s *SQLiteDatabase) ListChildren(ctx context.Context, q media.ListQuery) ([]*media.Entry, error) {
	if q.Order != "" && !q.Order.Valid() {
		return nil, media.NewError(media.ErrInvalidArgument, "list", "unknown ordering %q", q.Order)
	}
	entries, err := s.queries.ListEntries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteDatabase) UpdateEntry(ctx context.Context, tenantID, id int64, c media.EntryChanges) (*media.Entry, error) {
	const op = "update_entry"
	var updated *media.Entry
	err := s.inTx(ctx, func(q *Queries) error {
		cur, err := getEntry(ctx, q, op, tenantID, id)
		if err != nil {
			return err
		}
		if c.IfVersion != 0 && c.IfVersion != cur.Version {
			return &media.Error{Code: media.ErrConflict, Op: op, ID: id, Message: fmt.Sprintf("version %d is stale, current is %d", c.IfVersion, cur.Version)}
		}

		next := *cur
		if c.Title != nil {
			next.Title = *c.Title
		}
		if c.Slug != nil {
			next.Slug = *c.Slug
		}
		if c.Status != nil {
			next.Status = *c.Status
		}
		if c.ParentID != nil {
			next.ParentID = *c.ParentID
		}
		if c.RelativePath != nil {
			next.RelativePath = *c.RelativePath
		}
		if c.Derivatives != nil {
			next.Derivatives = *c.Derivatives
		}
		if next.Slug == "" || next.Status == "" || next.RelativePath == "" {
			return media.NewError(media.ErrInvalidArgument, op, "slug, status and relative path must not be empty")
		}

		placementChanged := next.ParentID != cur.ParentID || next.Status != cur.Status
		if placementChanged {
			if _, err := checkParent(ctx, q, op, tenantID, next.ParentID, cur.OwnerID, next.Status); err != nil {
				return err
			}
			if cur.IsDir() {
				if err := checkAcyclic(ctx, q, op, tenantID, id, next.ParentID); err != nil {
					return err
				}
			}
		}
		if placementChanged || next.Slug != cur.Slug {
			key := media.SiblingKey{TenantID: tenantID, OwnerID: cur.OwnerID, Status: next.Status, ParentID: next.ParentID}
			taken, err := q.SlugTaken(ctx, key, next.Slug, id)
			if err != nil {
				return fmt.Errorf("checking slug: %w", err)
			}
			if taken {
				return duplicateSlug(op, next.Slug, id)
			}
		}

		if cur.IsDir() && (next.RelativePath != cur.RelativePath || next.Status != cur.Status) {
			if _, err := q.RebaseDescendants(ctx, tenantID, id, cur.RelativePath, next.RelativePath, next.Status); err != nil {
				if isUniqueViolation(err) {
					return duplicateSlug(op, next.Slug, id)
				}
				return fmt.Errorf("rewriting descendants of %d: %w", id, err)
			}
		}

		derivs, err := encodeDerivatives(next.Derivatives)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		n, err := q.UpdateEntry(ctx, UpdateEntryParams{
			ID:           id,
			TenantID:     tenantID,
			Title:        next.Title,
			Slug:         next.Slug,
			ParentID:     next.ParentID,
			Status:       next.Status,
			RelativePath: next.RelativePath,
			Derivatives:  derivs,
			Version:      cur.Version,
			Now:          now,
		})
		if err != nil {
			if isUniqueViolation(err) {
				return duplicateSlug(op, next.Slug, id)
			}
			return fmt.Errorf("updating entry %d: %w", id, err)
		}
		if n == 0 {
			return &media.Error{Code: media.ErrConflict, Op: op, ID: id, Message: "entry changed concurrently"}
		}
		if next.ParentID == cur.ParentID && next.ParentID != media.RootID {
			if _, err := q.TouchEntry(ctx, tenantID, next.ParentID, now); err != nil {
				return fmt.Errorf("touching parent: %w", err)
			}
		}

		updated, err = getEntry(ctx, q, op, tenantID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// checkAcyclic walks up from newParent and fails if it meets id.
func checkAcyclic(ctx context.Context, q *Queries, op string, tenantID, id, newParent int64) error {
	seen := map[int64]bool{}
	for p := newParent; p != media.RootID; {
		if p == id {
			return &media.Error{Code: media.ErrInvalidParent, Op: op, ID: id, Message: "a directory cannot become its own descendant"}
		}
		if seen[p] {
			return fmt.Errorf("parent chain of %d loops at %d", newParent, p)
		}
		seen[p] = true
		e, err := getEntry(ctx, q, op, tenantID, p)
		if err != nil {
			return err
		}
		p = e.ParentID
	}
	return nil
}

func (s *SQLiteDatabase) TouchEntry(ctx context.Context, tenantID, id int64) error {
	if id == media.RootID {
		return nil
	}
	n, err := s.queries.TouchEntry(ctx, tenantID, id, s.clock.Now())
	if err != nil {
		return fmt.Errorf("touching entry %d: %w", id, err)
	}
	if n == 0 {
		return &media.Error{Code: media.ErrNotFound, Op: "touch_entry", ID: id, Message: "entry does not exist"}
	}
	return nil
}

func (s *SQLiteDatabase) DeleteEntry(ctx context.Context, tenantID, id int64) error {
	const op = "delete_entry"
	return s.inTx(ctx, func(q *Queries) error {
		e, err := getEntry(ctx, q, op, tenantID, id)
		if err != nil {
			return err
		}
		if e.IsDir() {
			n, err := q.CountChildren(ctx, tenantID, id)
			if err != nil {
				return fmt.Errorf("counting children of %d: %w", id, err)
			}
			if n > 0 {
				return &media.Error{Code: media.ErrNotEmpty, Op: op, ID: id, Message: fmt.Sprintf("directory still has %d children", n)}
			}
		}
		if _, err := q.DeleteEntry(ctx, tenantID, id); err != nil {
			return fmt.Errorf("deleting entry %d: %w", id, err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) Descendants(ctx context.Context, tenantID, id int64) ([]*media.Entry, error) {
	if id == media.RootID {
		return nil, media.NewError(media.ErrInvalidArgument, "descendants", "the root is not an entry")
	}
	entries, err := s.queries.Descendants(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("listing descendants of %d: %w", id, err)
	}
	return entries, nil
}

func (s *SQLiteDatabase) FindBySlug(ctx context.Context, tenantID, ownerID int64, statuses []media.Status, slug string) (*media.Entry, error) {
	const op = "find_by_slug"
	matches, err := s.queries.FindBySlug(ctx, tenantID, ownerID, statuses, slug)
	if err != nil {
		return nil, fmt.Errorf("finding slug %q: %w", slug, err)
	}
	switch len(matches) {
	case 0:
		return nil, &media.Error{Code: media.ErrNotFound, Op: op, Message: fmt.Sprintf("no entry with slug %q", slug)}
	case 1:
		return matches[0], nil
	default:
		return nil, &media.Error{Code: media.ErrAmbiguousSlug, Op: op, Message: fmt.Sprintf("slug %q matches several entries", slug)}
	}
}

func (s *SQLiteDatabase) SlugTaken(ctx context.Context, key media.SiblingKey, slug string) (bool, error) {
	taken, err := s.queries.SlugTaken(ctx, key, slug, 0)
	if err != nil {
		return false, fmt.Errorf("checking slug %q: %w", slug, err)
	}
	return taken, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*Operation, error) {
	now := s.clock.Now()
	id, err := s.queries.InsertOperation(context.Background(), operation, parameters, now)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &Operation{ID: id, Operation: operation, Parameters: parameters, StartedAt: now.UTC(), Status: "running"}, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	if err := s.queries.FinishOperation(context.Background(), id, status, s.clock.Now()); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*Operation, error) {
	ops, err := s.queries.ListOperations(context.Background(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	id, err := s.queries.MaxOperationID(context.Background())
	if err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// DB exposes the connection pool, e.g. to share it with the ledger.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ media.Store = (*SQLiteDatabase)(nil)
