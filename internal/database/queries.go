package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"medialib/internal/media"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL of the metadata database. Run it against the
// connection pool or, through WithTx, inside a transaction.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const entryColumns = `e.id, e.tenant_id, e.owner_id, e.kind, e.title, e.slug, e.parent_id, e.status,
	e.relative_path, e.mime_type, e.byte_size, e.derivatives, e.version, e.created_at, e.modified_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*media.Entry, error) {
	var (
		e                    media.Entry
		kind, status, derivs string
		created, modified    int64
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.OwnerID, &kind, &e.Title, &e.Slug, &e.ParentID, &status,
		&e.RelativePath, &e.MimeType, &e.ByteSize, &derivs, &e.Version, &created, &modified)
	if err != nil {
		return nil, err
	}
	e.Kind = media.Kind(kind)
	e.Status = media.Status(status)
	e.CreatedAt = fromNanos(created)
	e.ModifiedAt = fromNanos(modified)
	if derivs != "" && derivs != "[]" {
		if err := json.Unmarshal([]byte(derivs), &e.Derivatives); err != nil {
			return nil, fmt.Errorf("decoding derivatives of entry %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*media.Entry, error) {
	defer rows.Close()
	var entries []*media.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func encodeDerivatives(names []string) (string, error) {
	if len(names) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encoding derivatives: %w", err)
	}
	return string(b), nil
}

// Timestamps are stored as UTC unix nanoseconds so they order numerically.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// Entry queries

func (q *Queries) GetEntry(ctx context.Context, tenantID, id int64) (*media.Entry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries e WHERE e.tenant_id = ? AND e.id = ?`, tenantID, id)
	return scanEntry(row)
}

type InsertEntryParams struct {
	Draft       media.EntryDraft
	Derivatives string
	Now         time.Time
}

func (q *Queries) InsertEntry(ctx context.Context, p InsertEntryParams) (int64, error) {
	d := p.Draft
	now := toNanos(p.Now)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO entries (tenant_id, owner_id, kind, title, slug, parent_id, status, relative_path,
			mime_type, byte_size, derivatives, version, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		d.TenantID, d.OwnerID, string(d.Kind), d.Title, d.Slug, d.ParentID, string(d.Status), d.RelativePath,
		d.MimeType, d.ByteSize, p.Derivatives, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) SlugTaken(ctx context.Context, key media.SiblingKey, slug string, excludeID int64) (bool, error) {
	var taken bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entries
			WHERE tenant_id = ? AND owner_id = ? AND status = ? AND parent_id = ? AND slug = ? AND id != ?
		)`, key.TenantID, key.OwnerID, string(key.Status), key.ParentID, slug, excludeID).Scan(&taken)
	return taken, err
}

func (q *Queries) CountChildren(ctx context.Context, tenantID, id int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE tenant_id = ? AND parent_id = ?`, tenantID, id).Scan(&n)
	return n, err
}

func (q *Queries) TouchEntry(ctx context.Context, tenantID, id int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE entries SET modified_at = ? WHERE tenant_id = ? AND id = ?`, toNanos(now), tenantID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type UpdateEntryParams struct {
	ID           int64
	TenantID     int64
	Title        string
	Slug         string
	ParentID     int64
	Status       media.Status
	RelativePath string
	Derivatives  string
	Version      int64
	Now          time.Time
}

// UpdateEntry writes every mutable column and bumps the version, provided the
// stored version still equals p.Version.
func (q *Queries) UpdateEntry(ctx context.Context, p UpdateEntryParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE entries
		SET title = ?, slug = ?, parent_id = ?, status = ?, relative_path = ?, derivatives = ?,
			version = version + 1, modified_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		p.Title, p.Slug, p.ParentID, string(p.Status), p.RelativePath, p.Derivatives,
		toNanos(p.Now), p.TenantID, p.ID, p.Version)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const descendantsCTE = `
	WITH RECURSIVE tree(id, depth) AS (
		SELECT id, 1 FROM entries WHERE tenant_id = ? AND parent_id = ?
		UNION ALL
		SELECT c.id, tree.depth + 1 FROM entries c JOIN tree ON c.parent_id = tree.id WHERE c.tenant_id = ?
	)`

// Descendants lists every entry below id, shallowest first.
func (q *Queries) Descendants(ctx context.Context, tenantID, id int64) ([]*media.Entry, error) {
	rows, err := q.db.QueryContext(ctx, descendantsCTE+`
		SELECT `+entryColumns+` FROM entries e JOIN tree ON e.id = tree.id
		ORDER BY tree.depth, e.id`, tenantID, id, tenantID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// RebaseDescendants rewrites the relative path prefix and status of every
// entry below id.
func (q *Queries) RebaseDescendants(ctx context.Context, tenantID, id int64, oldPrefix, newPrefix string, status media.Status) (int64, error) {
	oldPrefix = strings.TrimSuffix(oldPrefix, "/") + "/"
	newPrefix = strings.TrimSuffix(newPrefix, "/") + "/"
	res, err := q.db.ExecContext(ctx, descendantsCTE+`
		UPDATE entries
		SET relative_path = ? || substr(relative_path, ?), status = ?, version = version + 1
		WHERE id IN (SELECT id FROM tree) AND substr(relative_path, 1, ?) = ?`,
		tenantID, id, tenantID,
		newPrefix, utf8.RuneCountInString(oldPrefix)+1, string(status),
		utf8.RuneCountInString(oldPrefix), oldPrefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteEntry(ctx context.Context, tenantID, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM entries WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) FindBySlug(ctx context.Context, tenantID, ownerID int64, statuses []media.Status, slug string) ([]*media.Entry, error) {
	args := []any{tenantID, ownerID, slug}
	where := ""
	if len(statuses) > 0 {
		where = " AND e.status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries e
		WHERE e.tenant_id = ? AND e.owner_id = ? AND e.slug = ?`+where+` ORDER BY e.id LIMIT 2`, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ListEntries builds the listing query from q. The tie-break on id keeps pages
// stable.
func (q *Queries) ListEntries(ctx context.Context, lq media.ListQuery) ([]*media.Entry, error) {
	var (
		conds = []string{"e.tenant_id = ?"}
		args  = []any{lq.TenantID}
	)
	if len(lq.ParentIDs) > 0 {
		conds = append(conds, "e.parent_id IN ("+placeholders(len(lq.ParentIDs))+")")
		for _, id := range lq.ParentIDs {
			args = append(args, id)
		}
	}
	if lq.OwnerID != 0 {
		conds = append(conds, "e.owner_id = ?")
		args = append(args, lq.OwnerID)
	}
	if len(lq.Statuses) > 0 {
		conds = append(conds, "e.status IN ("+placeholders(len(lq.Statuses))+")")
		for _, st := range lq.Statuses {
			args = append(args, string(st))
		}
	}
	if lq.Kind != "" {
		conds = append(conds, "e.kind = ?")
		args = append(args, string(lq.Kind))
	}
	search := strings.TrimSpace(lq.Search)
	if search != "" {
		pattern := "%" + escapeLike(search) + "%"
		conds = append(conds, `(e.title LIKE ? ESCAPE '\' OR e.slug LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	order := "e.modified_at DESC, e.id ASC"
	switch lq.Order {
	case media.OrderCreatedDesc:
		order = "e.created_at DESC, e.id ASC"
	case media.OrderTitleAsc:
		order = "e.title COLLATE NOCASE ASC, e.id ASC"
	case media.OrderRelevance:
		if search != "" {
			order = `CASE
				WHEN e.title = ? COLLATE NOCASE THEN 0
				WHEN e.title LIKE ? ESCAPE '\' THEN 1
				ELSE 2 END, e.modified_at DESC, e.id ASC`
			args = append(args, search, escapeLike(search)+"%")
		}
	}

	limit := lq.Limit
	if limit <= 0 {
		limit = media.DefaultListLimit
	}
	args = append(args, limit, lq.Offset)

	rows, err := q.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries e
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY `+order+`
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Disk usage queries

func (q *Queries) AddUsage(ctx context.Context, tenantID, ownerID, kb int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO disk_usage (tenant_id, owner_id, kilobytes, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, owner_id) DO UPDATE
		SET kilobytes = kilobytes + excluded.kilobytes, updated_at = excluded.updated_at`,
		tenantID, ownerID, kb, toNanos(now))
	return err
}

func (q *Queries) GetUsage(ctx context.Context, tenantID, ownerID int64) (int64, error) {
	var kb int64
	err := q.db.QueryRowContext(ctx, `SELECT kilobytes FROM disk_usage WHERE tenant_id = ? AND owner_id = ?`, tenantID, ownerID).Scan(&kb)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return kb, err
}

func (q *Queries) SetUsage(ctx context.Context, tenantID, ownerID, kb int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE disk_usage SET kilobytes = ?, updated_at = ? WHERE tenant_id = ? AND owner_id = ?`,
		kb, toNanos(now), tenantID, ownerID)
	return err
}

// Operation queries

func (q *Queries) InsertOperation(ctx context.Context, operation, parameters string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, 'running')`,
		operation, parameters, toNanos(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) FinishOperation(ctx context.Context, id int64, status string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`, toNanos(now), status, id)
	return err
}

func (q *Queries) ListOperations(ctx context.Context, limit int) ([]*Operation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var (
			op       Operation
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &started, &finished, &op.Status); err != nil {
			return nil, err
		}
		op.StartedAt = fromNanos(started)
		if finished.Valid {
			t := fromNanos(finished.Int64)
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

func (q *Queries) MaxOperationID(ctx context.Context) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id)
	return id, err
}
