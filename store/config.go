package store

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/queryops/observe"
	"github.com/jonwraymond/queryops/retry"
)

// Default lifetimes and retry policy applied when no option overrides them.
const (
	// DefaultCacheTime is how long a successful result stays fresh.
	DefaultCacheTime = 10 * time.Second

	// DefaultInactiveCacheTime is the eviction grace period for a cached
	// query with no subscribers.
	DefaultInactiveCacheTime = 10 * time.Second

	// DefaultRetry is the number of retries after an initial failure.
	DefaultRetry = retry.Limit(3)
)

// settings is the effective configuration for the store or one query. Later
// options override earlier ones; a subscription's options are layered over
// the store defaults current at subscribe time.
type settings struct {
	retry             retry.Limit
	retryDelay        retry.DelayFunc
	cacheTime         time.Duration
	inactiveCacheTime time.Duration
	fetchTimeout      time.Duration
	autoRefetch       bool
	refetchOnFocus    bool

	logger  observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer
	meter   metric.Meter
}

func defaultSettings() settings {
	return settings{
		retry:             DefaultRetry,
		retryDelay:        retry.DefaultDelay,
		cacheTime:         DefaultCacheTime,
		inactiveCacheTime: DefaultInactiveCacheTime,
		refetchOnFocus:    true,
		logger:            observe.NopLogger(),
	}
}

// Option configures a Store at construction or Configure time, or one
// subscription for as long as it is active.
type Option func(*settings)

// WithRetry bounds retries after an initial fetch failure. Use
// retry.Unlimited to retry forever.
func WithRetry(l retry.Limit) Option {
	return func(s *settings) { s.retry = l }
}

// WithRetryDelay sets the delay schedule between retries.
func WithRetryDelay(fn retry.DelayFunc) Option {
	return func(s *settings) {
		if fn != nil {
			s.retryDelay = fn
		}
	}
}

// WithCacheTime sets how long a successful result stays fresh before it is
// marked stale.
func WithCacheTime(d time.Duration) Option {
	return func(s *settings) { s.cacheTime = d }
}

// WithInactiveCacheTime sets the eviction grace period after the last
// subscriber leaves. A never-cached query is evicted immediately regardless.
func WithInactiveCacheTime(d time.Duration) Option {
	return func(s *settings) { s.inactiveCacheTime = d }
}

// WithFetchTimeout bounds each individual fetch invocation. Zero disables
// the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *settings) { s.fetchTimeout = d }
}

// WithAutoRefetch makes a query refetch itself as soon as it goes stale.
func WithAutoRefetch(on bool) Option {
	return func(s *settings) { s.autoRefetch = on }
}

// WithRefetchAllOnFocus controls whether regaining visibility triggers a
// RefetchAll of stale queries. Enabled by default.
func WithRefetchAllOnFocus(on bool) Option {
	return func(s *settings) { s.refetchOnFocus = on }
}

// WithLogger sets the engine logger. Only meaningful at New.
func WithLogger(l observe.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets a pre-built fetch metrics recorder. Only meaningful at New.
func WithMetrics(m observe.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithMeter builds fetch metrics and registry gauges on the given meter.
// Only meaningful at New.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithTracer sets a fetch span tracer. Only meaningful at New.
func WithTracer(t observe.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}
