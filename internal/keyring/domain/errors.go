package domain

import "github.com/allisson/bearertoken/internal/errors"

// Key-ring and key-manager errors.
var (
	// ErrActiveKeyMissing indicates the active key hash named by a metadata
	// update is not present among its own keys list — a fatal inconsistency,
	// never retried.
	ErrActiveKeyMissing = errors.Wrap(errors.ErrFatalInconsistency, "active key hash missing from metadata")

	// ErrSpareKeyRequired is returned by rotateToSpareKey when the newest
	// entry is already the active one; the caller must call generateSpareKey
	// first.
	ErrSpareKeyRequired = errors.Wrap(errors.ErrInvalidInput, "call generateSpareKey first")

	// ErrKeyClosed indicates an operation was attempted on a KeyAndCache
	// whose passphrase has already been zeroed and released.
	ErrKeyClosed = errors.Wrap(errors.ErrInvalidInput, "key and cache is closed")

	// ErrHashCollision signals generateSpareKey's retry condition: the
	// freshly generated passphrase hashed to an already-present KeyHash.
	ErrHashCollision = errors.New("generated key hash collides with an existing entry")
)
