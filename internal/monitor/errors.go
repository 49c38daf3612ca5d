package monitor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the core.
type ErrorKind string

// Error kinds. Network, Protocol and Decode come from checks; the rest from
// channel configuration and collaborator-level lookups.
const (
	KindNetwork       ErrorKind = "network"
	KindProtocol      ErrorKind = "protocol"
	KindDecode        ErrorKind = "decode"
	KindConfiguration ErrorKind = "configuration"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindForbidden     ErrorKind = "forbidden"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = &Error{Kind: KindNotFound, Msg: "not found"}
	// ErrConflict is returned when an owner already monitors the same URL.
	ErrConflict = &Error{Kind: KindConflict, Msg: "sitemap url is already monitored"}
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// Error is a classified failure. Msg is safe to persist as a monitor's lastError.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a message prefix.
func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets the sentinels match any error of the same kind, so
// errors.Is(err, ErrNotFound) holds for every not_found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && (t == ErrNotFound || t == ErrConflict) && t.Kind == e.Kind
}

// KindOf extracts the kind from err, or "" when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
