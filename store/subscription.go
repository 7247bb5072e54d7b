package store

import (
	"sync"

	"github.com/google/uuid"
)

// subscriber is one registered observer of a query's state, keyed by an
// opaque token. Re-subscribing with the same token updates the record in
// place rather than appending.
type subscriber struct {
	id uuid.UUID

	mu       sync.Mutex
	onChange func(State)
}

func (s *subscriber) callback() func(State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onChange
}

func (s *subscriber) setCallback(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Subscription is the handle returned by Store.Subscribe. Its token is the
// subscriber's identity within the query.
type Subscription struct {
	query *Query
	id    uuid.UUID
	once  sync.Once
}

// ID returns the subscription's opaque identity token.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Query returns the subscribed query.
func (s *Subscription) Query() *Query {
	return s.query
}

// Update replaces this identity's state-change callback in place.
func (s *Subscription) Update(onChange func(State)) {
	s.query.mu.Lock()
	sub, ok := s.query.subs[s.id]
	s.query.mu.Unlock()
	if ok {
		sub.setCallback(onChange)
	}
}

// Unsubscribe removes this identity from the query. When the last identity
// leaves, any in-flight fetch is canceled and the query is scheduled for
// eviction. Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.query.unsubscribe(s.id)
	})
}
