package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"medialib/internal/config"
	"medialib/internal/media"
)

type recordingLogger struct {
	media.NopLogger
	msgs []string
	args [][]any
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.msgs = append(l.msgs, msg)
	l.args = append(l.args, args)
}

type stubSink struct {
	published []media.Event
	err       error
	closed    bool
}

func (s *stubSink) Publish(_ context.Context, ev media.Event) error {
	s.published = append(s.published, ev)
	return s.err
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func testEvent() media.Event {
	return media.Event{
		ID:         "evt-1",
		Type:       media.EventEntryDeleted,
		TenantID:   1,
		OwnerID:    7,
		ActorID:    7,
		EntryID:    42,
		CascadeIDs: []int64{43, 44},
		OccurredAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestLogSink_Publish(t *testing.T) {
	logger := &recordingLogger{}
	sink := NewLogSink(logger)

	if err := sink.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(logger.msgs) != 1 || logger.msgs[0] != "event" {
		t.Fatalf("logged messages = %v, want one \"event\"", logger.msgs)
	}

	fields := make(map[string]any)
	args := logger.args[0]
	for i := 0; i+1 < len(args); i += 2 {
		fields[args[i].(string)] = args[i+1]
	}
	if fields["type"] != "entry_deleted" {
		t.Errorf("type = %v, want entry_deleted", fields["type"])
	}
	if fields["entry_id"] != int64(42) {
		t.Errorf("entry_id = %v, want 42", fields["entry_id"])
	}
	if fields["cascade_ids"] != "[43 44]" {
		t.Errorf("cascade_ids = %v, want [43 44]", fields["cascade_ids"])
	}
	if _, ok := fields["delta_kb"]; ok {
		t.Error("delta_kb should only be logged for ledger events")
	}
}

func TestMultiSink(t *testing.T) {
	ok := &stubSink{}
	failing := &stubSink{err: errors.New("broker down")}
	multi := MultiSink{failing, ok}

	err := multi.Publish(context.Background(), testEvent())
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("Publish() error = %v, want broker down", err)
	}
	if len(ok.published) != 1 {
		t.Errorf("healthy sink received %d events, want 1", len(ok.published))
	}

	if err := multi.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Error("Close() should close every sink")
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	t.Run("log sink", func(t *testing.T) {
		sink, err := NewSinkFromConfig([]config.EventSinkConfig{{Type: "log"}}, media.NewNopLogger())
		if err != nil {
			t.Fatalf("NewSinkFromConfig() error = %v", err)
		}
		defer sink.Close()
		if multi, ok := sink.(MultiSink); !ok || len(multi) != 1 {
			t.Errorf("sink = %#v, want one log sink", sink)
		}
	})

	t.Run("no sinks", func(t *testing.T) {
		sink, err := NewSinkFromConfig(nil, media.NewNopLogger())
		if err != nil {
			t.Fatalf("NewSinkFromConfig() error = %v", err)
		}
		if err := sink.Publish(context.Background(), testEvent()); err != nil {
			t.Errorf("Publish() error = %v", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewSinkFromConfig([]config.EventSinkConfig{{Type: "kafka"}}, media.NewNopLogger())
		if err == nil {
			t.Fatal("NewSinkFromConfig() expected error for unknown type")
		}
	})

	t.Run("unreachable nats", func(t *testing.T) {
		cfgs := []config.EventSinkConfig{{Type: "log"}, {Type: "nats", NATSURL: "nats://127.0.0.1:1"}}
		_, err := NewSinkFromConfig(cfgs, media.NewNopLogger())
		if err == nil {
			t.Fatal("NewSinkFromConfig() expected error for unreachable server")
		}
	})
}

func TestNATSSink_Publish(t *testing.T) {
	url := os.Getenv("MEDIALIB_TEST_NATS_URL")
	if url == "" {
		t.Skip("MEDIALIB_TEST_NATS_URL not set")
	}

	sink, err := NewNATSSink(url, "test.medialib", media.NewNopLogger())
	if err != nil {
		t.Fatalf("NewNATSSink() error = %v", err)
	}
	defer sink.Close()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("nats.Connect() error = %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("test.medialib.>", msgs)
	if err != nil {
		t.Fatalf("ChanSubscribe() error = %v", err)
	}
	defer s.Unsubscribe()
	if err := sub.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	want := testEvent()
	if err := sink.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Subject != "test.medialib.entry_deleted" {
			t.Errorf("Subject = %q, want test.medialib.entry_deleted", msg.Subject)
		}
		var got media.Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if got.ID != want.ID || got.EntryID != want.EntryID || len(got.CascadeIDs) != 2 {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNATSSink_Subject(t *testing.T) {
	s := &NATSSink{subject: DefaultSubject}
	if got := s.Subject(media.EventLedgerAdjusted); got != "medialib.events.ledger_adjusted" {
		t.Errorf("Subject() = %q, want medialib.events.ledger_adjusted", got)
	}
}

func TestNATSSink_PublishCancelled(t *testing.T) {
	s := &NATSSink{subject: DefaultSubject}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Publish(ctx, testEvent()); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() error = %v, want context.Canceled", err)
	}
}
