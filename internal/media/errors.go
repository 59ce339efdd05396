package media

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the category of a domain error. Transport layers translate codes
// to their own status space using HTTPStatus.
type ErrorCode int

const (
	// ErrInvalidParent: the parent does not exist, is not a directory, or belongs
	// to a different owner, tenant or status.
	ErrInvalidParent ErrorCode = iota + 1

	// ErrDuplicateSlug: a sibling already uses the slug.
	ErrDuplicateSlug

	// ErrNotFound: the referenced entry or parent does not exist, or exists but
	// must not be revealed to the caller.
	ErrNotFound

	// ErrAmbiguousSlug: slug resolution matched more than one live entry.
	ErrAmbiguousSlug

	// ErrIntegrityMismatch: the supplied checksum or size did not match the bytes.
	ErrIntegrityMismatch

	// ErrStorageIO: a filesystem operation failed for a reason other than
	// "already absent".
	ErrStorageIO

	ErrBelowMinimumCapability
	ErrInsufficientRole
	ErrUnknownAction

	// ErrInconsistentState: physical storage and metadata disagree after a
	// partially completed operation. Requires operator attention.
	ErrInconsistentState

	// ErrConflict: the entry changed since it was read.
	ErrConflict

	// ErrNotEmpty: a directory record still has children.
	ErrNotEmpty

	// ErrInvalidArgument: the request itself is malformed or rejected by policy.
	ErrInvalidArgument
)

var codeNames = map[ErrorCode]string{
	ErrInvalidParent:          "InvalidParent",
	ErrDuplicateSlug:          "DuplicateSlug",
	ErrNotFound:               "NotFound",
	ErrAmbiguousSlug:          "AmbiguousSlug",
	ErrIntegrityMismatch:      "IntegrityMismatch",
	ErrStorageIO:              "StorageIOFailure",
	ErrBelowMinimumCapability: "BelowMinimumCapability",
	ErrInsufficientRole:       "InsufficientRole",
	ErrUnknownAction:          "UnknownAction",
	ErrInconsistentState:      "InconsistentState",
	ErrConflict:               "Conflict",
	ErrNotEmpty:               "NotEmpty",
	ErrInvalidArgument:        "InvalidArgument",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// IsDenial reports whether the code is an access-control denial.
func (c ErrorCode) IsDenial() bool {
	return c == ErrBelowMinimumCapability || c == ErrInsufficientRole || c == ErrUnknownAction
}

// HTTPStatus is a hint for transport layers.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrInvalidParent, ErrIntegrityMismatch, ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrDuplicateSlug, ErrConflict, ErrNotEmpty:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBelowMinimumCapability, ErrInsufficientRole, ErrUnknownAction:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Severity classifies how loudly an error should be reported.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	}
	return "unknown"
}

// Severity of a code: caller errors and denials are informational, storage
// failures are errors, and an inconsistent state is fatal.
func (c ErrorCode) Severity() Severity {
	switch c {
	case ErrInconsistentState:
		return SeverityFatal
	case ErrStorageIO, ErrAmbiguousSlug:
		return SeverityError
	case ErrConflict:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Error is a domain error carrying a code and the identifiers involved.
type Error struct {
	Code    ErrorCode
	Op      string // operation, e.g. "upload"
	ID      int64  // entry the error concerns, if any
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.ID != 0 {
		msg += fmt.Sprintf(" (entry %d)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so errors.Is(err,
// &media.Error{Code: media.ErrNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a domain error.
func NewError(code ErrorCode, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a domain error around a cause.
func WrapError(code ErrorCode, op string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

func notFound(op string, id int64) *Error {
	return &Error{Code: ErrNotFound, Op: op, ID: id, Message: "entry does not exist"}
}
