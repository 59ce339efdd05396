// Package ledger holds the disk usage ledger backends other than the
// metadata database.
package ledger

import (
	"context"
	"sync"

	"medialib/internal/media"
)

type ownerKey struct {
	tenantID, ownerID int64
}

// MemoryLedger keeps usage totals in a map. Safe for concurrent use.
type MemoryLedger struct {
	mu    sync.Mutex
	usage map[ownerKey]int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{usage: make(map[ownerKey]int64)}
}

func (l *MemoryLedger) Charge(_ context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	if kb == 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage[ownerKey{tenantID, ownerID}] += kb
	return kb, nil
}

func (l *MemoryLedger) Release(_ context.Context, tenantID, ownerID, bytes int64) (int64, error) {
	kb := media.KilobytesFor(bytes)
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ownerKey{tenantID, ownerID}
	removed := min(l.usage[k], kb)
	l.usage[k] -= removed
	return -removed, nil
}

func (l *MemoryLedger) Usage(_ context.Context, tenantID, ownerID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage[ownerKey{tenantID, ownerID}], nil
}

func (l *MemoryLedger) Close() error { return nil }

var _ Ledger = (*MemoryLedger)(nil)
