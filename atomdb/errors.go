package atomdb

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error kinds. Every failure surfaced by this module wraps exactly one of
// these sentinels, so callers can classify with errors.Is or the helpers
// below without depending on message text.
var (
	// ErrValidation marks misuse of the API: saving outside a transaction,
	// setting attributes on an immutable object, reserved attribute names,
	// duplicate database names, and similar.
	ErrValidation = stderrors.New("validation error")

	// ErrCorruption marks structurally inconsistent persisted data, such as
	// a reserved-prefix attribute or an unresolvable class tag found in
	// stored records.
	ErrCorruption = stderrors.New("corrupted data")

	// ErrConflict marks a commit-time revalidation failure: another
	// transaction committed a change to a slot this transaction observed.
	// It is always retryable with a fresh transaction.
	ErrConflict = stderrors.New("concurrency conflict")

	// ErrNotSupported is reserved for storage-policy decisions.
	ErrNotSupported = stderrors.New("not supported")

	// ErrNotAuthorized is reserved for storage-policy decisions.
	ErrNotAuthorized = stderrors.New("not authorized")
)

// NewValidationError returns a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// NewCorruptionError returns a corruption error with a formatted message.
func NewCorruptionError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

// NewConflictError returns a retryable concurrency-conflict error.
func NewConflictError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConflict, format, args...)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return stderrors.Is(err, ErrValidation) }

// IsCorruption reports whether err is a corruption error.
func IsCorruption(err error) bool { return stderrors.Is(err, ErrCorruption) }

// IsConflict reports whether err is a retryable concurrency conflict.
func IsConflict(err error) bool { return stderrors.Is(err, ErrConflict) }
