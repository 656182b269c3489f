package services

import (
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/store"
)

// Kind is the stable failure code reported to callers
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindNotFound            Kind = "NOT_FOUND"
	KindInsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	KindAccountState        Kind = "ACCOUNT_STATE"
	KindIdempotencyConflict Kind = "IDEMPOTENCY_CONFLICT"
	KindConcurrency         Kind = "CONCURRENCY"
	KindAlreadyReversed     Kind = "ALREADY_REVERSED"
	KindIntegrityViolation  Kind = "INTEGRITY_VIOLATION"
	KindDependency          Kind = "DEPENDENCY"
)

// Error is the typed failure returned by every engine operation
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInsufficientFunds) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAccountState        = &Error{Kind: KindAccountState, Message: "account not in a postable state"}
	ErrIdempotencyConflict = &Error{Kind: KindIdempotencyConflict, Message: "idempotency key reused with a different request"}
	ErrConcurrency         = &Error{Kind: KindConcurrency, Message: "concurrent modification"}
	ErrAlreadyReversed     = &Error{Kind: KindAlreadyReversed, Message: "transaction already reversed"}
	ErrIntegrityViolation  = &Error{Kind: KindIntegrityViolation, Message: "ledger integrity violation"}
	ErrDependency          = &Error{Kind: KindDependency, Message: "storage unavailable"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the failure kind of err, or "" for untyped errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// dependencyError wraps a storage failure, passing typed errors through untouched
func dependencyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindDependency, Message: op + " failed", Err: err}
}

// notFoundOr maps store.ErrNotFound to a NOT_FOUND failure naming what was missing
func notFoundOr(err error, what string, id int64, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, "%s %d not found", what, id)
	}
	return dependencyError(op, err)
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrDuplicateKey)
}
