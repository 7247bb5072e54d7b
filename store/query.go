package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/queryops/observe"
	"github.com/jonwraymond/queryops/retry"
)

// FetchFunc is the opaque asynchronous operation that produces a query's
// data. The engine never inspects it; it only schedules, retries and caches
// its results.
type FetchFunc func(ctx context.Context) (any, error)

// MergeFunc combines the previous cached value with a freshly fetched one.
type MergeFunc func(prev, next any) any

// FetchOptions modify a single Fetch call.
type FetchOptions struct {
	// Merge, if set, combines the previous data with the fetched data on
	// success. When calls coalesce, the initiating call's Merge is used.
	Merge MergeFunc

	// Force fetches even when the cached value is still fresh.
	Force bool
}

// attempt carries one fetch execution's cancellation marker. Aborting an
// attempt never un-cancels: subscribers arriving later get a fresh attempt.
type attempt struct {
	canceled atomic.Bool
	cancel   context.CancelFunc
}

func (a *attempt) abort() {
	a.canceled.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
}

// Query is one cached, fetchable resource, identified by a canonical hash.
// Exactly one Query exists per hash while it is reachable from its Store.
type Query struct {
	store    *Store
	hash     string
	group    string
	varsHash string
	vars     map[string]any

	mu        sync.Mutex
	state     State
	fetchFn   FetchFunc
	cfg       settings
	subs      map[uuid.UUID]*subscriber
	attempt   *attempt
	expiry    *time.Timer
	evict     *time.Timer
	destroyed bool

	flight singleflight.Group
}

func newQuery(s *Store, hash, group, varsHash string, vars map[string]any, cfg settings) *Query {
	return &Query{
		store:    s,
		hash:     hash,
		group:    group,
		varsHash: varsHash,
		vars:     vars,
		state:    initialState(),
		cfg:      cfg,
		subs:     make(map[uuid.UUID]*subscriber),
	}
}

// Hash returns the query's unique identity.
func (q *Query) Hash() string { return q.hash }

// Group returns the query's logical resource family.
func (q *Query) Group() string { return q.group }

// State returns a copy of the current state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Subscribers returns the current subscriber count.
func (q *Query) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

// Fetch runs the query's fetch function through the retry policy.
//
// A fresh, unforced query is a no-op returning the cached data. While a fetch
// is in flight, concurrent calls coalesce onto it: the fetch function runs at
// most once concurrently per query. The caller's ctx only bounds its own
// wait; an abandoned wait does not cancel the shared execution.
//
// Cancellation (loss of all subscribers mid-flight) surfaces to direct
// callers as retry.ErrCanceled and is never recorded in query state.
func (q *Query) Fetch(ctx context.Context, opts FetchOptions) (any, error) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if !q.state.Stale && !opts.Force {
		data := q.state.Data
		q.mu.Unlock()
		return data, nil
	}
	q.mu.Unlock()

	ch := q.flight.DoChan(q.hash, func() (any, error) {
		return q.run(opts)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes one coalesced fetch: the single in-flight execution all
// concurrent Fetch callers share.
func (q *Query) run(opts FetchOptions) (any, error) {
	actx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &attempt{cancel: cancel}

	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	fn := q.fetchFn
	cfg := q.cfg
	q.attempt = a
	q.mu.Unlock()

	q.setState(func(s State) State {
		s.Fetching = true
		s.Err = nil
		s.Failures = 0
		return s
	})

	meta := observe.QueryMeta{Hash: q.hash, Group: q.group}
	logger := q.store.logger.WithQuery(meta)

	var span trace.Span
	sctx := actx
	if q.store.tracer != nil {
		sctx, span = q.store.tracer.StartFetch(actx, meta)
	}

	runner := &retry.Runner{
		Limit:      cfg.retry,
		Delay:      cfg.retryDelay,
		Visibility: q.store.visibility(),
		Canceled:   a.canceled.Load,
		OnFailure: func(n int) {
			q.setState(func(s State) State {
				s.Failures = n
				return s
			})
		},
	}

	fetch := retry.FetchFunc(fn)
	if cfg.fetchTimeout > 0 {
		fetch = boundFetch(fetch, cfg.fetchTimeout)
	}

	start := time.Now()
	val, err := runner.Run(sctx, fetch)
	canceled := errors.Is(err, retry.ErrCanceled)

	q.mu.Lock()
	if q.attempt == a {
		q.attempt = nil
	}
	prev := q.state.Data
	q.mu.Unlock()

	switch {
	case err == nil:
		if opts.Merge != nil {
			val = opts.Merge(prev, val)
		}
		next := val
		q.setState(func(s State) State {
			s.Data = next
			s.Err = nil
			s.Cached = true
			s.Stale = false
			s.Fetching = false
			return s
		})
		q.armExpiry(cfg.cacheTime, cfg.autoRefetch)

	case canceled:
		q.setState(func(s State) State {
			s.Fetching = false
			return s
		})
		logger.Debug(context.Background(), "fetch canceled")

	default:
		q.setState(func(s State) State {
			s.Err = err
			s.Cached = false
			s.Stale = true
			s.Fetching = false
			return s
		})
		logger.Warn(context.Background(), "fetch failed",
			observe.Field{Key: "error", Value: err.Error()})
	}

	if q.store.tracer != nil {
		q.store.tracer.EndFetch(span, err, canceled)
	}
	if q.store.metrics != nil {
		q.store.metrics.RecordFetch(context.Background(), meta, time.Since(start), err, canceled)
	}

	return val, err
}

// boundFetch wraps each fetch invocation with a deadline.
func boundFetch(fn retry.FetchFunc, d time.Duration) retry.FetchFunc {
	return func(ctx context.Context) (any, error) {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(tctx)
	}
}

// SetData writes the cached value directly, without touching fetch, error or
// staleness flags. The updater is a replacement value or a func(prev) any.
func (q *Query) SetData(updater any) {
	q.setState(func(s State) State {
		s.Data = applyUpdater(s.Data, updater)
		return s
	})
}

// setState is the sole state-mutation entry point. It applies the update,
// synchronously notifies the query's subscribers with the new state, then
// signals the store-wide change listeners. Subscriber panics are contained.
func (q *Query) setState(update func(State) State) {
	q.mu.Lock()
	q.state = update(q.state)
	st := q.state
	subs := make([]*subscriber, 0, len(q.subs))
	for _, sub := range q.subs {
		subs = append(subs, sub)
	}
	q.mu.Unlock()

	for _, sub := range subs {
		q.emit(sub, st)
	}
	q.store.broadcast()
}

func (q *Query) emit(sub *subscriber, st State) {
	defer func() {
		if r := recover(); r != nil {
			q.store.logger.Error(context.Background(), "subscriber callback panicked",
				observe.Field{Key: "query.hash", Value: q.hash},
				observe.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()
	if fn := sub.callback(); fn != nil {
		fn(st)
	}
}

// armExpiry (re-)schedules the cache-expiry timer after a successful fetch.
func (q *Query) armExpiry(d time.Duration, autoRefetch bool) {
	q.mu.Lock()
	if q.expiry != nil {
		q.expiry.Stop()
	}
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.expiry = time.AfterFunc(d, func() { q.expire(autoRefetch) })
	q.mu.Unlock()
}

// expire marks the cached value stale and, if configured, refetches at once.
func (q *Query) expire(autoRefetch bool) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.setState(func(s State) State {
		s.Stale = true
		return s
	})

	if autoRefetch {
		go func() {
			_, _ = q.Fetch(context.Background(), FetchOptions{})
		}()
	}
}

// subscribe registers a new subscriber, adopting the caller's fetch function
// and options for future fetches. Returns nil if the query is being
// destroyed; the store then retries with a fresh entity.
func (q *Query) subscribe(fn FetchFunc, onChange func(State), opts []Option) *Subscription {
	cfg := q.store.defaultsSnapshot()
	for _, opt := range opts {
		opt(&cfg)
	}

	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return nil
	}

	if fn != nil {
		q.fetchFn = fn
	}
	q.cfg = cfg

	id := uuid.New()
	q.subs[id] = &subscriber{id: id, onChange: onChange}

	if q.evict != nil {
		q.evict.Stop()
		q.evict = nil
	}
	wasInactive := q.state.Inactive
	q.mu.Unlock()

	if wasInactive {
		q.setState(func(s State) State {
			s.Inactive = false
			return s
		})
	} else {
		q.store.broadcast()
	}

	return &Subscription{query: q, id: id}
}

// unsubscribe removes an identity. Dropping to zero subscribers cancels any
// in-flight fetch and schedules eviction.
func (q *Query) unsubscribe(id uuid.UUID) {
	q.mu.Lock()
	if _, ok := q.subs[id]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.subs, id)
	if len(q.subs) > 0 {
		q.mu.Unlock()
		q.store.broadcast()
		return
	}

	if q.attempt != nil {
		q.attempt.abort()
	}
	delay := q.cfg.inactiveCacheTime
	if !q.state.Cached {
		delay = 0
	}
	if q.evict != nil {
		q.evict.Stop()
	}
	q.evict = time.AfterFunc(delay, q.evictNow)
	q.mu.Unlock()

	q.setState(func(s State) State {
		s.Inactive = true
		return s
	})
}

// evictNow removes the query from the registry if it is still unobserved.
func (q *Query) evictNow() {
	q.mu.Lock()
	if q.destroyed || len(q.subs) > 0 {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	if q.expiry != nil {
		q.expiry.Stop()
	}
	if q.evict != nil {
		q.evict.Stop()
	}
	q.mu.Unlock()

	q.store.remove(q.hash, q)
}

// shutdown tears the query down as part of Store.Close.
func (q *Query) shutdown() {
	q.mu.Lock()
	q.destroyed = true
	if q.expiry != nil {
		q.expiry.Stop()
	}
	if q.evict != nil {
		q.evict.Stop()
	}
	if q.attempt != nil {
		q.attempt.abort()
	}
	q.mu.Unlock()
}

func (q *Query) isDestroyed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destroyed
}
