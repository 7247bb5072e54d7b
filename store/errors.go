package store

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store: store is closed")

	// ErrNoKey is returned when a key canonicalizes to "no query".
	ErrNoKey = errors.New("store: key resolves to no query")

	// ErrUnknownQuery is returned when a fetch targets an unregistered query.
	ErrUnknownQuery = errors.New("store: no query registered for key")
)
