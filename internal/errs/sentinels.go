// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation or a write-once field that is already set.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidArgument indicates a request that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates an operation that is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")
)

// Messaging and call sentinels.
var (
	// ErrKeyUnavailable means no private key is present in the local secure store.
	ErrKeyUnavailable = errors.New("key unavailable")

	// ErrDecryption is matched by every DecryptionError.
	ErrDecryption = errors.New("decryption failed")

	// ErrMediaAcquisition means camera or microphone could not be acquired.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrSignaling means the relay is unreachable or a remote description is malformed.
	ErrSignaling = errors.New("signaling failed")

	// ErrUpload means the blob store rejected an upload.
	ErrUpload = errors.New("upload failed")
)
