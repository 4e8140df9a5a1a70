package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every failure produced by the core so callers can react to
// the class of problem without matching on message strings.
type Kind int

const (
	// KindTimeout means an awaited reply channel expired.
	KindTimeout Kind = iota + 1
	// KindNotFound means a required field or store row was absent.
	KindNotFound
	// KindValidation means a malformed request, mismatched proof or
	// unparseable amount/address.
	KindValidation
	// KindUpstream wraps a failure of an external collaborator.
	KindUpstream
	// KindConcurrency means acquisition of a shared handle failed.
	KindConcurrency
	// KindFatalEnqueue means an internal queue send failed.
	KindFatalEnqueue
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindConcurrency:
		return "concurrency"
	case KindFatalEnqueue:
		return "fatal enqueue"
	default:
		return "unknown"
	}
}

// Error is the result type relay-level calls hand back to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two domain errors by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ErrKind extracts the Kind of err, or 0 if err carries none.
func ErrKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

var (
	ErrTimeout          = &Error{Kind: KindTimeout, Message: "operation timed out"}
	ErrMissingField     = &Error{Kind: KindNotFound, Message: "required field is missing"}
	ErrUnknownPeer      = &Error{Kind: KindNotFound, Message: "peer is not known"}
	ErrInvalidProof     = &Error{Kind: KindValidation, Message: "proof verification failed"}
	ErrQueueUnavailable = &Error{Kind: KindFatalEnqueue, Message: "internal queue rejected message"}
)
