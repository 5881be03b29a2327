package bet

import (
	"errors"
	"net/http"
)

// Kind is the closed enumeration of settlement error kinds. Every error
// surfaced by this package carries exactly one kind, so call sites can
// handle the full set exhaustively.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindInvalidAmount       Kind = "invalid_amount"
	KindMarketNotFound      Kind = "market_not_found"
	KindPoolNotInitialized  Kind = "pool_not_initialized"
	KindMarketNotActive     Kind = "market_not_active"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindPoolExhausted       Kind = "pool_exhausted"
	KindInvariantViolation  Kind = "invariant_violation"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindPersistenceFailure  Kind = "persistence_failure"
)

// Error pairs a stable machine-readable kind with a human-readable
// message. The message never exposes internal numeric state beyond what
// explains the rejection.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	cause   error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// E builds a settlement error with no underlying cause.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// wrapErr attaches an underlying cause for logs; the cause is never
// rendered in the client-facing message.
func wrapErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the kind from any error returned by this package.
// Unknown errors report as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistenceFailure
}

// httpStatus maps an error kind to its HTTP response status.
func httpStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidAmount:
		return http.StatusBadRequest
	case KindMarketNotFound:
		return http.StatusNotFound
	case KindMarketNotActive, KindPoolNotInitialized, KindInsufficientBalance,
		KindPoolExhausted, KindConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
