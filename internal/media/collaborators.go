package media

import (
	"context"
	"mime"
	"path"
	"time"

	"github.com/google/uuid"
)

// Logger provides structured logging for the service layer.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// DerivativeGenerator produces secondary representations (thumbnails, scaled
// images) of an uploaded file. The returned names are files created in the same
// directory as absPath. A failure is never fatal to the upload.
type DerivativeGenerator interface {
	Generate(ctx context.Context, absPath, mimeType string) ([]string, error)
}

// NopDerivatives generates nothing.
type NopDerivatives struct{}

func (NopDerivatives) Generate(context.Context, string, string) ([]string, error) {
	return nil, nil
}

// UploadPolicy decides which uploads are accepted.
type UploadPolicy interface {
	// CheckName rejects names matching a deny rule.
	CheckName(name string) error

	// DetectType returns the mime type of the upload from its name and the
	// first bytes of its content, or an error if the type is not allowed.
	DetectType(name string, head []byte) (string, error)

	// MaxBytes is the largest accepted upload; 0 means unlimited.
	MaxBytes() int64
}

// PermissivePolicy accepts everything and types files by extension.
type PermissivePolicy struct{}

func (PermissivePolicy) CheckName(string) error { return nil }

func (PermissivePolicy) DetectType(name string, _ []byte) (string, error) {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t, nil
	}
	return "application/octet-stream", nil
}

func (PermissivePolicy) MaxBytes() int64 { return 0 }
