// Package ledgerr defines the sum-type domain errors surfaced to the CLI
// and the mining node. Every operation that can fail for a reason a caller
// should branch on returns one of these kinds instead of a bare error.
package ledgerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags a domain error with the reason category from the design spec.
type Kind string

const (
	InsufficientFunds Kind = "InsufficientFunds"
	BadSignature      Kind = "BadSignature"
	MiningExhausted   Kind = "MiningExhausted"
	ChainExists       Kind = "ChainExists"
	BadAddress        Kind = "BadAddress"
	NotFound          Kind = "NotFound"
	ProtocolError     Kind = "ProtocolError"
	IO                Kind = "IO"
	Timeout           Kind = "Timeout"
)

// Error is the single error type every domain-level failure is wrapped in.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the tag this error was constructed with.
func (e *Error) Kind() Kind { return e.kind }

// New builds an Error of the given kind from a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, cause: errors.New(msg)}
}

// Newf builds an Error of the given kind from a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap attaches a kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, cause: errors.WithStack(err)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == kind
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.kind
}
