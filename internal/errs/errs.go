// Package errs defines the error kinds the transactional core surfaces to
// callers. A request handler maps a Kind to a transport status code; the
// core never knows about HTTP.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories from spec §7.
type Kind string

const (
	NotFound           Kind = "NOT_FOUND"
	Unauthorized       Kind = "UNAUTHORIZED"
	Forbidden          Kind = "FORBIDDEN"
	InvalidAmount      Kind = "INVALID_AMOUNT"
	InsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	InsufficientShares Kind = "INSUFFICIENT_SHARES"
	MarketClosed       Kind = "MARKET_CLOSED"
	OutOfWindow        Kind = "OUT_OF_WINDOW"
	InvalidTrade       Kind = "INVALID_TRADE"
	InvalidTransition  Kind = "INVALID_TRANSITION"
	Conflict           Kind = "CONFLICT"
	Internal           Kind = "INTERNAL"
)

// Error wraps a Kind with a client-visible message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
