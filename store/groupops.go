package store

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/queryops/key"
	"github.com/jonwraymond/queryops/retry"
)

// RefetchOptions modify group-wide refetch operations.
type RefetchOptions struct {
	// Force refetches even queries whose cached data is still fresh.
	Force bool
}

// MutateOptions modify Mutate.
type MutateOptions struct {
	// SkipRefetch leaves the locally mutated value in place without
	// reconciling against the source of truth.
	SkipRefetch bool
}

// RefetchQuery refetches every registered query in k's group. The key's shape
// narrows the match: an opaque key refetches the whole group; a pair without
// variables matches only the variable-less query; a pair with variables
// matches the exact hash. A key resolving to no group is a no-op.
//
// All matched fetches run concurrently and all are waited for; the first
// non-cancellation error is returned, but a failure in one query does not
// prevent its siblings from completing.
func (s *Store) RefetchQuery(ctx context.Context, k key.Key, opts RefetchOptions) error {
	canon, err := key.Canonicalize(k)
	if err != nil {
		return err
	}
	if canon.Group == "" {
		return nil
	}

	matchNoVars := canon.Kind == key.KindPair && canon.VarsHash == ""
	matchExact := canon.Kind == key.KindPair && canon.VarsHash != ""

	s.mu.RLock()
	var matched []*Query
	for _, q := range s.queries {
		if q.group != canon.Group {
			continue
		}
		if matchNoVars && q.varsHash != "" {
			continue
		}
		if matchExact && q.varsHash != canon.VarsHash {
			continue
		}
		matched = append(matched, q)
	}
	s.mu.RUnlock()

	return settleAll(ctx, matched, opts.Force)
}

// RefetchAll refetches every stale registered query, or every query when
// forced, with the same all-settle semantics as RefetchQuery.
func (s *Store) RefetchAll(ctx context.Context, opts RefetchOptions) error {
	s.mu.RLock()
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.mu.RUnlock()

	if !opts.Force {
		stale := queries[:0]
		for _, q := range queries {
			if q.State().Stale {
				stale = append(stale, q)
			}
		}
		queries = stale
	}

	return settleAll(ctx, queries, opts.Force)
}

// settleAll fetches every query concurrently and waits for all of them.
// Cancellations are not failures.
func settleAll(ctx context.Context, queries []*Query, force bool) error {
	g := new(errgroup.Group)
	for _, q := range queries {
		g.Go(func() error {
			_, err := q.Fetch(ctx, FetchOptions{Force: force})
			if err != nil && !errors.Is(err, retry.ErrCanceled) && !errors.Is(err, ErrClosed) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Mutate applies an optimistic local update to the query registered for k's
// exact hash, then, unless skipped, triggers a non-forced RefetchQuery for
// the same key to reconcile with the source of truth. Absent keys and
// unregistered queries are no-ops.
func (s *Store) Mutate(ctx context.Context, k key.Key, updater any, opts MutateOptions) error {
	canon, err := key.Canonicalize(k)
	if err != nil {
		return err
	}
	if canon.IsZero() {
		return nil
	}

	s.mu.RLock()
	q := s.queries[canon.Hash]
	s.mu.RUnlock()
	if q == nil {
		return nil
	}

	q.SetData(updater)

	if opts.SkipRefetch {
		return nil
	}
	return s.RefetchQuery(ctx, k, RefetchOptions{})
}
