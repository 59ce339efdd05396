package database

import (
	"context"
	"fmt"

	"medialib/internal/media"
)

// SQLiteLedger keeps disk usage in the disk_usage table of the metadata
// database.
type SQLiteLedger struct {
	db *SQLiteDatabase
}

func NewSQLiteLedger(db *SQLiteDatabase) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func (l *SQLiteLedger) Charge(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}
	if err := l.db.queries.AddUsage(ctx, tenantID, ownerID, kb, l.db.clock.Now()); err != nil {
		return 0, fmt.Errorf("charging %d KB to owner %d: %w", kb, ownerID, err)
	}
	return kb, nil
}

// Release runs in an immediate transaction, so the read and the clamped
// write cannot interleave with another writer.
func (l *SQLiteLedger) Release(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}

	var removed int64
	err := l.db.inTx(ctx, func(q *Queries) error {
		cur, err := q.GetUsage(ctx, tenantID, ownerID)
		if err != nil {
			return err
		}
		removed = min(cur, kb)
		if removed == 0 {
			return nil
		}
		return q.SetUsage(ctx, tenantID, ownerID, cur-removed, l.db.clock.Now())
	})
	if err != nil {
		return 0, fmt.Errorf("releasing %d KB from owner %d: %w", kb, ownerID, err)
	}
	return -removed, nil
}

func (l *SQLiteLedger) Usage(ctx context.Context, tenantID, ownerID int64) (int64, error) {
	kb, err := l.db.queries.GetUsage(ctx, tenantID, ownerID)
	if err != nil {
		return 0, fmt.Errorf("reading usage of owner %d: %w", ownerID, err)
	}
	return kb, nil
}

var _ media.Ledger = (*SQLiteLedger)(nil)
