package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jonwraymond/queryops/key"
	"github.com/jonwraymond/queryops/observe"
	"github.com/jonwraymond/queryops/retry"
)

// Store is the process-wide query registry. It creates queries on first
// subscription and destroys them when their inactivity grace period elapses.
// A Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	queries  map[string]*Query
	watchers map[uuid.UUID]func()
	defaults settings
	vis      retry.Visibility
	closed   bool

	logger  observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer

	done chan struct{}
}

// New constructs a Store. Options set the process-wide defaults; later
// options override earlier ones.
func New(opts ...Option) (*Store, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{
		queries:  make(map[string]*Query),
		watchers: make(map[uuid.UUID]func()),
		defaults: cfg,
		logger:   cfg.logger,
		metrics:  cfg.metrics,
		tracer:   cfg.tracer,
		done:     make(chan struct{}),
	}

	if cfg.meter != nil {
		if s.metrics == nil {
			m, err := observe.NewMetrics(cfg.meter)
			if err != nil {
				return nil, fmt.Errorf("store: building fetch metrics: %w", err)
			}
			s.metrics = m
		}
		if err := observe.RegisterRegistryGauges(cfg.meter, s.activeCount, s.fetchingCount); err != nil {
			return nil, fmt.Errorf("store: registering registry gauges: %w", err)
		}
	}

	return s, nil
}

// Configure merges further options into the store defaults. Later calls
// override earlier ones. New settings apply to queries (re-)configured by
// subsequent subscriptions; ambient telemetry options are fixed at New.
func (s *Store) Configure(opts ...Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(&s.defaults)
	}
}

func (s *Store) defaultsSnapshot() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// Subscribe registers interest in the query identified by k, creating it on
// first subscription. The latest subscriber's fetch function and options win
// for future fetches. onChange is invoked synchronously with every state the
// query passes through; it must not block.
//
// A key resolving to "no query" returns ErrNoKey.
func (s *Store) Subscribe(k key.Key, fn FetchFunc, onChange func(State), opts ...Option) (*Subscription, error) {
	canon, err := key.Canonicalize(k)
	if err != nil {
		return nil, err
	}
	if canon.IsZero() {
		return nil, ErrNoKey
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		cfg := s.defaults
		q, ok := s.queries[canon.Hash]
		created := false
		if !ok || q.isDestroyed() {
			q = newQuery(s, canon.Hash, canon.Group, canon.VarsHash, canon.Vars, cfg)
			s.queries[canon.Hash] = q
			created = true
		}
		s.mu.Unlock()

		if sub := q.subscribe(fn, onChange, opts); sub != nil {
			if created {
				s.logger.Debug(context.Background(), "query registered",
					observe.Field{Key: "query.hash", Value: canon.Hash},
					observe.Field{Key: "query.group", Value: canon.Group})
			}
			return sub, nil
		}
		// Lost a race with eviction; retry against a fresh entity.
	}
}

// Fetch runs the registered query for k. Fresh, unforced queries return the
// cached data without invoking the fetch function; concurrent calls coalesce.
func (s *Store) Fetch(ctx context.Context, k key.Key, opts FetchOptions) (any, error) {
	canon, err := key.Canonicalize(k)
	if err != nil {
		return nil, err
	}
	if canon.IsZero() {
		return nil, ErrNoKey
	}

	// Index by the hash already in hand; resolving the key a second time
	// would invoke callable keys twice per call.
	s.mu.RLock()
	q, ok := s.queries[canon.Hash]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownQuery
	}
	return q.Fetch(ctx, opts)
}

// SetData writes a query's cached value directly, with no network activity.
// Absent keys and unregistered queries are no-ops.
func (s *Store) SetData(k key.Key, updater any) error {
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
	return nil
}

// Lookup returns the registered query for k, if any.
func (s *Store) Lookup(k key.Key) (*Query, bool) {
	canon, err := key.Canonicalize(k)
	if err != nil || canon.IsZero() {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[canon.Hash]
	return q, ok
}

// QueryInfo is a point-in-time view of one registered query.
type QueryInfo struct {
	Hash        string
	Group       string
	VarsHash    string
	State       State
	Subscribers int
}

// Snapshot returns a point-in-time view of every registered query, letting
// aggregate observers derive facts like "is anything fetching" without
// per-query plumbing.
func (s *Store) Snapshot() []QueryInfo {
	s.mu.RLock()
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.mu.RUnlock()

	infos := make([]QueryInfo, 0, len(queries))
	for _, q := range queries {
		q.mu.Lock()
		infos = append(infos, QueryInfo{
			Hash:        q.hash,
			Group:       q.group,
			VarsHash:    q.varsHash,
			State:       q.state,
			Subscribers: len(q.subs),
		})
		q.mu.Unlock()
	}
	return infos
}

// IsFetching reports whether any registered query has a fetch in flight.
func (s *Store) IsFetching() bool {
	return s.fetchingCount() > 0
}

// Watch registers a store-wide change listener, invoked after any query's
// state changes or the registry's membership changes. The returned function
// cancels the registration.
func (s *Store) Watch(fn func()) func() {
	id := uuid.New()

	s.mu.Lock()
	if !s.closed && fn != nil {
		s.watchers[id] = fn
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// broadcast signals all store-wide change listeners. Listener panics are
// contained.
func (s *Store) broadcast() {
	s.mu.RLock()
	watchers := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range watchers {
		s.invokeWatcher(fn)
	}
}

func (s *Store) invokeWatcher(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), "registry watcher panicked",
				observe.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()
	fn()
}

// BindVisibility attaches a host-driven visibility source. While hidden,
// retries park; on regaining visibility the store refetches stale queries if
// RefetchAllOnFocus is enabled.
func (s *Store) BindVisibility(v retry.Visibility) {
	if v == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.vis = v
	s.mu.Unlock()

	// Capture the first resume channel before the watcher goroutine runs
	// so a focus cycle completing before it starts is still delivered.
	go s.watchFocus(v, v.Resumed())
}

func (s *Store) watchFocus(v retry.Visibility, resumed <-chan struct{}) {
	for {
		select {
		case <-resumed:
		case <-s.done:
			return
		}

		// Swap in the next resume channel before handling this event;
		// a focus cycle landing mid-refetch closes the held channel
		// rather than one nobody is watching.
		resumed = v.Resumed()

		s.mu.RLock()
		refetch := s.defaults.refetchOnFocus
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}
		if refetch {
			if err := s.RefetchAll(context.Background(), RefetchOptions{}); err != nil {
				s.logger.Warn(context.Background(), "refetch on focus failed",
					observe.Field{Key: "error", Value: err.Error()})
			}
		}
	}
}

func (s *Store) visibility() retry.Visibility {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vis
}

// remove deletes a query from the registry if it is still the registered
// entity for its hash.
func (s *Store) remove(hash string, q *Query) {
	s.mu.Lock()
	if s.queries[hash] == q {
		delete(s.queries, hash)
	}
	s.mu.Unlock()

	s.logger.Debug(context.Background(), "query evicted",
		observe.Field{Key: "query.hash", Value: hash})
	s.broadcast()
}

func (s *Store) activeCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.queries))
}

func (s *Store) fetchingCount() int64 {
	s.mu.RLock()
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.mu.RUnlock()

	var n int64
	for _, q := range queries {
		if q.State().Fetching {
			n++
		}
	}
	return n
}

// Close tears the store down: every query's timers are stopped, in-flight
// fetches are canceled, and the registry is emptied. Close is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.queries = make(map[string]*Query)
	s.watchers = make(map[uuid.UUID]func())
	close(s.done)
	s.mu.Unlock()

	for _, q := range queries {
		q.shutdown()
	}
}
