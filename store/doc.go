// Package store implements the query cache engine's registry.
//
// A Store maps canonical query hashes to Query entities. Each Query owns its
// state machine (fetch, retry with backoff, success or error, stale, refetch),
// its subscriber set, and its cache-expiry and inactivity-eviction timers.
// Concurrent fetches for one query coalesce into a single in-flight execution;
// losing the last subscriber cancels the in-flight fetch and schedules the
// query for eviction after a grace period.
//
// The Store is an explicit lifecycle object: construct one with New, tear it
// down with Close. All state mutation funnels through the engine's own entry
// points; callers only ever request operations (Fetch, Subscribe, Mutate) and
// observe the results through subscriber callbacks or the store-wide change
// signal.
package store
