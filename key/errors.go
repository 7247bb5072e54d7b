package key

import "errors"

// Sentinel errors for key canonicalization.
var (
	// ErrEmptyID is returned for a Pair key with an empty id.
	ErrEmptyID = errors.New("key: pair id is empty")

	// ErrBadVariables is returned when variables cannot be serialized.
	ErrBadVariables = errors.New("key: variables are not serializable")
)
