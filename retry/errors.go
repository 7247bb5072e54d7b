package retry

import "errors"

// Sentinel errors for fetch execution.
var (
	// ErrCanceled is returned when an attempt is invalidated by its
	// cancellation marker. It is never recorded as a query error.
	ErrCanceled = errors.New("retry: fetch canceled")

	// ErrNilFetch is returned when Run is given a nil fetch function.
	ErrNilFetch = errors.New("retry: fetch function is nil")
)
