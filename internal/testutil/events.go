package testutil

import (
	"context"
	"sync"

	"medialib/internal/media"
)

// RecordingSink keeps every published event. Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	events []media.Event
	Err    error // returned from Publish after recording
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Publish(_ context.Context, ev media.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.Err
}

// Events returns a copy of everything published so far.
func (s *RecordingSink) Events() []media.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Event(nil), s.events...)
}

// OfType returns the published events of type t.
func (s *RecordingSink) OfType(t media.EventType) []media.Event {
	var out []media.Event
	for _, ev := range s.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

var _ media.EventSink = (*RecordingSink)(nil)
