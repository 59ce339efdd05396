package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"medialib/internal/media"
)

const maxTxnRetries = 100

// BadgerLedger stores one big-endian int64 per owner under
// "usage:{tenant}:{owner}". Every adjustment is a single read-modify-write
// transaction, retried when badger reports a conflicting writer.
type BadgerLedger struct {
	db *badger.DB
}

// NewBadgerLedger opens (or creates) the ledger in dir. An empty dir keeps the
// ledger in memory.
func NewBadgerLedger(dir string) (*BadgerLedger, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger ledger: %w", err)
	}
	return &BadgerLedger{db: db}, nil
}

func usageKey(tenantID, ownerID int64) []byte {
	return fmt.Appendf(nil, "usage:%d:%d", tenantID, ownerID)
}

func readUsage(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var kb int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt usage value for %s", key)
		}
		kb = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return kb, err
}

// adjust applies delta, clamped so the total never drops below zero, and
// returns the delta actually applied.
func (l *BadgerLedger) adjust(ctx context.Context, tenantID, ownerID, delta int64) (int64, error) {
	key := usageKey(tenantID, ownerID)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var applied int64
		err := l.db.Update(func(txn *badger.Txn) error {
			cur, err := readUsage(txn, key)
			if err != nil {
				return err
			}
			next := max(cur+delta, 0)
			applied = next - cur
			if applied == 0 {
				return nil
			}
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(next))
			return txn.Set(key, val)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return applied, nil
	}
	return 0, fmt.Errorf("adjusting usage of owner %d: %w", ownerID, badger.ErrConflict)
}

func (l *BadgerLedger) Charge(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}
	delta, err := l.adjust(ctx, tenantID, ownerID, kb)
	if err != nil {
		return 0, fmt.Errorf("charging %d KB: %w", kb, err)
	}
	return delta, nil
}

func (l *BadgerLedger) Release(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}
	delta, err := l.adjust(ctx, tenantID, ownerID, -kb)
	if err != nil {
		return 0, fmt.Errorf("releasing %d KB: %w", kb, err)
	}
	return delta, nil
}

func (l *BadgerLedger) Usage(_ context.Context, tenantID, ownerID int64) (int64, error) {
	var kb int64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		kb, err = readUsage(txn, usageKey(tenantID, ownerID))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reading usage of owner %d: %w", ownerID, err)
	}
	return kb, nil
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

var _ Ledger = (*BadgerLedger)(nil)
