package media

import (
	"context"
	"fmt"
)

// Ledger keeps the running disk usage of each owner in kilobytes. Charge and
// Release must be atomic per (tenant, owner); a backend never splits the
// read-modify-write across round trips.
type Ledger interface {
	// Charge adds KilobytesFor(bytes) and returns the delta applied. A file
	// under one kilobyte is not tracked and yields a zero delta.
	Charge(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error)

	// Release subtracts KilobytesFor(bytes), clamping the total at zero. The
	// returned delta is the amount actually removed, as a negative number.
	Release(ctx context.Context, tenantID, ownerID, bytes int64) (int64, error)

	// Usage returns the current total, 0 when the owner has no record.
	Usage(ctx context.Context, tenantID, ownerID int64) (int64, error)
}

// KilobytesFor converts a byte count with decimal kilobytes, truncating.
// Usage is accounted per file, so many small files are never charged.
func KilobytesFor(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return bytes / 1000
}

// FormatUsage renders a kilobyte total the way the CLI prints it.
func FormatUsage(kb int64) string {
	switch {
	case kb >= 1000*1000:
		return fmt.Sprintf("%.2f GB", float64(kb)/1e6)
	case kb >= 1000:
		return fmt.Sprintf("%.2f MB", float64(kb)/1e3)
	default:
		return fmt.Sprintf("%d KB", kb)
	}
}
