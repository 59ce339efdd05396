package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestTabHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			level:   slog.LevelInfo,
			message: "entry created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-1\tentry created\n",
		},
		{
			name:    "with record attrs",
			level:   slog.LevelWarn,
			message: "derivative failed",
			attrs:   []slog.Attr{slog.Int64("entry_id", 42), slog.String("size", "150x150")},
			want:    "2024-06-15T14:30:45Z\tWARN\top-1\tderivative failed\tentry_id=42\tsize=150x150\n",
		},
		{
			name:    "values with spaces are quoted",
			level:   slog.LevelError,
			message: "move failed",
			attrs:   []slog.Attr{slog.String("error", "disk full")},
			want:    "2024-06-15T14:30:45Z\tERROR\top-1\tmove failed\terror=\"disk full\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newTabHandler(&buf, slog.LevelDebug, "op-1")

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() wrote %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTabHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTabHandler(&buf, slog.LevelInfo, "op-2")).With("tenant_id", 1)
	logger.Info("listed")

	want := "\tINFO\top-2\tlisted\ttenant_id=1\n"
	if got := buf.String(); len(got) < len(want) || got[len(got)-len(want):] != want {
		t.Errorf("output = %q, want suffix %q", got, want)
	}
}

func TestTabHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTabHandler(&buf, slog.LevelWarn, "op-3"))
	logger.Info("hidden")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("records below the level were written: %q", buf.String())
	}
	logger.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn record was not written")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
