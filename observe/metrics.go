package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMeta identifies a query for telemetry purposes.
type QueryMeta struct {
	Hash  string // unique query identity
	Group string // logical resource family
}

// SpanName returns the deterministic span name for a fetch of this query.
func (m QueryMeta) SpanName() string {
	if m.Group != "" {
		return "query.fetch." + m.Group
	}
	return "query.fetch"
}

// Metrics records fetch executions for queries.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic; recording is best-effort.
type Metrics interface {
	// RecordFetch records one settled fetch with its duration and outcome.
	// Canceled fetches are recorded with canceled=true and no error.
	RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error, canceled bool)
}

type metricsImpl struct {
	fetchTotal   metric.Int64Counter
	fetchErrors  metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics recorder on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	fetchTotal, err := meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of settled fetch executions"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of fetch executions that exhausted retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Fetch execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		fetchTotal:   fetchTotal,
		fetchErrors:  fetchErrors,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, err error, canceled bool) {
	// Group, not hash: hashes embed serialized variables and would blow up
	// metric cardinality.
	attrs := []attribute.KeyValue{
		attribute.String("query.group", meta.Group),
		attribute.Bool("query.canceled", canceled),
	}
	opt := metric.WithAttributes(attrs...)

	m.fetchTotal.Add(ctx, 1, opt)
	if err != nil && !canceled {
		m.fetchErrors.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

// RegisterRegistryGauges registers observable gauges for the registry's live
// and fetching query counts. The callbacks are invoked on collection and must
// be safe for concurrent use.
func RegisterRegistryGauges(meter metric.Meter, active, fetching func() int64) error {
	activeGauge, err := meter.Int64ObservableGauge(
		"query.registry.active",
		metric.WithDescription("Number of queries currently registered"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return err
	}

	fetchingGauge, err := meter.Int64ObservableGauge(
		"query.registry.fetching",
		metric.WithDescription("Number of queries with a fetch in flight"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(activeGauge, active())
		o.ObserveInt64(fetchingGauge, fetching())
		return nil
	}, activeGauge, fetchingGauge)
	return err
}

var _ Metrics = (*metricsImpl)(nil)
