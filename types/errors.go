package types

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the document is not found
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. update of old revision)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest when the request is malformed
	ErrBadRequest = errors.New("bad request")

	// ErrInternal (for unahandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrValidation is returned when the inbound email is not eligible or breaks the registration limits
	ErrValidation = errors.New("validation error")

	// consent token errors
	ErrAuthorizationNotFound = errors.New("authorization request not found")
	ErrAuthorizationExpired  = errors.New("authorization request expired")
	ErrAuthorizationConsumed = errors.New("authorization request already consumed")

	// ErrStorageFailure is returned when content addressed storage failed (transient)
	ErrStorageFailure = errors.New("storage failure")

	// ErrLedgerFailure is returned when the ledger write or lookup failed (transient)
	ErrLedgerFailure = errors.New("ledger failure")

	// ErrLedgerReverted is returned when the ledger rejected the record (permanent)
	ErrLedgerReverted = errors.New("ledger transaction reverted")

	// ErrConfiguration is fatal at startup
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidTransition when task status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTaskCancelled is returned when a running task was cancelled
	ErrTaskCancelled = errors.New("task cancelled")

	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidPublicKey  = errors.New("invalid public key")
)

// error kinds as recorded on processing log entries
const (
	ErrorKindValidation            = "ValidationError"
	ErrorKindAuthorizationExpired  = "AuthorizationExpired"
	ErrorKindAuthorizationInvalid  = "AuthorizationInvalid"
	ErrorKindStorageFailure        = "StorageFailure"
	ErrorKindLedgerFailure         = "LedgerFailure"
	ErrorKindConfiguration         = "ConfigurationError"
	ErrorKindCancelled             = "Cancelled"
	ErrorKindInternal              = "InternalError"
	ErrorKindAuthorizationNotFound = "NotFound"
	ErrorKindAlreadyConsumed       = "AlreadyConsumed"
)

// ErrorKind classifies an error into the error taxonomy of the pipeline
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrAuthorizationExpired):
		return ErrorKindAuthorizationExpired
	case errors.Is(err, ErrAuthorizationNotFound), errors.Is(err, ErrAuthorizationConsumed):
		return ErrorKindAuthorizationInvalid
	case errors.Is(err, ErrStorageFailure):
		return ErrorKindStorageFailure
	case errors.Is(err, ErrLedgerFailure), errors.Is(err, ErrLedgerReverted):
		return ErrorKindLedgerFailure
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrTaskCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	}
	return ErrorKindInternal
}

// AuthorizationFailureKind returns the specific consent failure (NotFound, Expired, AlreadyConsumed)
func AuthorizationFailureKind(err error) string {
	switch {
	case errors.Is(err, ErrAuthorizationNotFound):
		return ErrorKindAuthorizationNotFound
	case errors.Is(err, ErrAuthorizationExpired):
		return "Expired"
	case errors.Is(err, ErrAuthorizationConsumed):
		return ErrorKindAlreadyConsumed
	}
	return ""
}

// IsTransient reports whether a phase failure may be retried
func IsTransient(err error) bool {
	if errors.Is(err, ErrLedgerReverted) {
		return false
	}
	return errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrLedgerFailure)
}
