package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"medialib/internal/media"
)

// DefaultSubject prefixes event subjects when none is configured.
const DefaultSubject = "medialib.events"

// NATSSink publishes events as JSON on "{subject}.{type}".
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string, logger media.Logger) (*NATSSink, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	opts := []nats.Option{
		nats.Name("medialib"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Subject returns the subject an event of type t is published on.
func (s *NATSSink) Subject(t media.EventType) string {
	return s.subject + "." + string(t)
}

func (s *NATSSink) Publish(ctx context.Context, ev media.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}
	if err := s.conn.Publish(s.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publishing event %s: %w", ev.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

var _ Sink = (*NATSSink)(nil)
