// Package events delivers media.Event notifications to logs and message
// brokers.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"

	"medialib/internal/config"
	"medialib/internal/media"
)

// Sink is a media.EventSink that holds resources until closed.
type Sink interface {
	media.EventSink
	io.Closer
}

// LogSink writes every event to the log.
type LogSink struct {
	logger media.Logger
}

func NewLogSink(logger media.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, ev media.Event) error {
	args := []any{
		"event_id", ev.ID,
		"type", string(ev.Type),
		"tenant_id", ev.TenantID,
		"owner_id", ev.OwnerID,
		"actor_id", ev.ActorID,
	}
	if ev.EntryID != 0 {
		args = append(args, "entry_id", ev.EntryID)
	}
	if len(ev.CascadeIDs) > 0 {
		args = append(args, "cascade_ids", fmt.Sprint(ev.CascadeIDs))
	}
	if ev.Type == media.EventLedgerAdjusted {
		args = append(args, "delta_kb", ev.DeltaKB)
	}
	s.logger.Info("event", args...)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, ev media.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSinkFromConfig builds one sink per configured destination.
func NewSinkFromConfig(cfgs []config.EventSinkConfig, logger media.Logger) (Sink, error) {
	var sinks MultiSink
	for i, cfg := range cfgs {
		switch cfg.Type {
		case "log":
			sinks = append(sinks, NewLogSink(logger))
		case "nats":
			s, err := NewNATSSink(cfg.NATSURL, cfg.Subject, logger)
			if err != nil {
				sinks.Close()
				return nil, fmt.Errorf("events[%d]: %w", i, err)
			}
			sinks = append(sinks, s)
		default:
			sinks.Close()
			return nil, fmt.Errorf("unknown event sink type: %s", cfg.Type)
		}
	}
	return sinks, nil
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = MultiSink(nil)
)
