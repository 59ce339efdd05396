package media

import (
	"context"
	"time"
)

// EventType names a notification emitted by the service.
type EventType string

const (
	EventEntryCreated   EventType = "entry_created"
	EventEntryMoved     EventType = "entry_moved"
	EventEntryDeleted   EventType = "entry_deleted"
	EventLedgerAdjusted EventType = "ledger_adjusted"
)

// Event is a fire-and-forget notification for audit trails and collaborators
// such as a "referenced in content" tracker.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TenantID   int64     `json:"tenant_id"`
	OwnerID    int64     `json:"owner_id"`
	ActorID    int64     `json:"actor_id"`
	EntryID    int64     `json:"entry_id,omitempty"`
	CascadeIDs []int64   `json:"cascade_ids,omitempty"`
	DeltaKB    int64     `json:"delta_kb,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventSink receives events. The service logs and ignores sink errors.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
