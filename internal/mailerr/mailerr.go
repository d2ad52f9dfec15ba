// Package mailerr defines the structured error taxonomy shared by the sync
// engine, the dispatcher and the API layer. Every error carries a
// machine-readable kind and a human message; the API maps kinds to HTTP
// status codes in one place.
package mailerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindAuthentication means bad credentials. Fatal for the account's
	// cycle; surfaced, not retried faster.
	KindAuthentication Kind = "authentication"
	// KindConnection means a network failure or timeout. Retried on the next
	// scheduled tick only.
	KindConnection Kind = "connection"
	// KindParse means a single malformed message. Skipped; the cycle
	// continues.
	KindParse Kind = "parse"
	// KindFilterConfig means an invalid settings value. The cycle aborts and
	// the previous settings remain in effect.
	KindFilterConfig Kind = "filter_config"
	// KindSend means an outbound failure. No message is persisted.
	KindSend Kind = "send"
	// KindNotFound means a referenced account, chat, group or message does
	// not exist.
	KindNotFound Kind = "not_found"
	// KindValidation means a malformed request from the caller.
	KindValidation Kind = "validation"
	// KindInternal is the fallback for everything else.
	KindInternal Kind = "internal"
)

// Error is an engine error with a kind, a human message and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
