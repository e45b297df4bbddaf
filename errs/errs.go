// Package errs implements strata's error taxonomy (spec.md §7). It sits
// below field, keycodec, model, and txn so that component-local
// validation errors (raised at the point of misuse, per §7's propagation
// policy) and txn's commit-time classification share one vocabulary.
package errs

import "fmt"

// Kind enumerates strata's error taxonomy.
type Kind string

const (
	KindInvalidField              Kind = "InvalidField"
	KindInvalidOptions            Kind = "InvalidOptions"
	KindInvalidParameter          Kind = "InvalidParameter"
	KindModelAlreadyExists        Kind = "ModelAlreadyExists"
	KindModelTrackedTwice         Kind = "ModelTrackedTwice"
	KindDeletedTwice              Kind = "DeletedTwice"
	KindWriteAttemptedInReadOnlyTx Kind = "WriteAttemptedInReadOnlyTx"
	KindTransactionLockTimeout    Kind = "TransactionLockTimeout"
	KindGenericModel              Kind = "GenericModel"
	KindTransactionFailed         Kind = "TransactionFailed"
)

// retryable reports the static retryability of each kind per spec.md §7's
// table. TransactionFailed's retryability is N/A there — it is the
// terminal wrapper surfaced after retries are exhausted, so it is never
// itself retried.
var retryable = map[Kind]bool{
	KindInvalidField:               false,
	KindInvalidOptions:             false,
	KindInvalidParameter:           false,
	KindModelAlreadyExists:         false,
	KindModelTrackedTwice:          false,
	KindDeletedTwice:               false,
	KindWriteAttemptedInReadOnlyTx: false,
	KindTransactionLockTimeout:     true,
	KindGenericModel:               false,
	KindTransactionFailed:          false,
}

// Error is strata's structured error type: a Kind, a human message, and
// an optional wrapped cause. Retryability follows from the Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("strata: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("strata: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error should drive a txn retry: the
// retryability table's value for e.Kind. There is no per-error override.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err, or any error in its Unwrap chain, is a strata
// *Error of kind — so a TransactionFailed wrapper still matches the kind
// of the classified error it wraps.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !asError(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable marker interface. Application errors thrown inside a txn
// closure that implement this and return true drive a retry, per
// spec.md §7's "unless they carry the retryable marker" clause.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable classifies any error (strata's own or an application
// error) per spec.md §7: explicit Retryable() marker, else a known kind.
func IsRetryable(err error) bool {
	if re, ok := err.(RetryableError); ok {
		return re.Retryable()
	}
	var e *Error
	if asError(err, &e) {
		return e.Retryable()
	}
	return false
}
