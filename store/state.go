package store

// State is a query's observable condition. Subscribers receive a copy after
// every mutation; the conceptual machine (idle, fetching, success, failed,
// stale, inactive) is derived from these flags rather than a single enum.
type State struct {
	// Data is the last successfully fetched (or directly written) value.
	Data any

	// Err is the error from the last exhausted fetch, nil otherwise.
	// Canceled fetches never set it.
	Err error

	// Fetching is true for the duration of an in-flight fetch, retries
	// included.
	Fetching bool

	// Failures counts failed attempts within the current fetch execution,
	// updated as each attempt fails.
	Failures int

	// Cached is true once a fetch has succeeded and the result has not
	// since been invalidated by an error.
	Cached bool

	// Stale is true until the first successful fetch and again once the
	// cache lifetime elapses.
	Stale bool

	// Inactive is true while the query has no subscribers.
	Inactive bool
}

// initialState is the state of a freshly registered query: nothing cached,
// due for its first fetch.
func initialState() State {
	return State{Stale: true}
}

// applyUpdater resolves a data updater: a func(prev) transforms the previous
// value, anything else replaces it wholesale.
func applyUpdater(prev, updater any) any {
	if fn, ok := updater.(func(any) any); ok {
		return fn(prev)
	}
	return updater
}
