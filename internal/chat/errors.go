package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a failed chat operation.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
	KindTransport  Kind = "transport"
	KindInternal   Kind = "internal"
)

var (
	ErrValidation = errors.New("message content must not be empty")
	ErrPermission = errors.New("not allowed to modify this message")
	ErrNotFound   = errors.New("message already deleted")
	ErrTransport  = errors.New("saved but not broadcast")
	ErrInternal   = errors.New("internal error")
)

var kindSentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindPermission: ErrPermission,
	KindNotFound:   ErrNotFound,
	KindTransport:  ErrTransport,
	KindInternal:   ErrInternal,
}

// Error is returned by Session operations. errors.Is matches it against the
// sentinel of its Kind as well as the wrapped cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	reason := kindSentinels[e.Kind].Error()
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Reason is the user-facing reason string for the failure kind.
func (e *Error) Reason() string {
	return kindSentinels[e.Kind].Error()
}

// KindOf reports the Kind of err, or "" when err is not a chat error.
func KindOf(err error) Kind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return ""
}

func newError(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}
