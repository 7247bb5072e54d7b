package observe

import (
	"context"
	"errors"
	"testing"
)

// TestConfig_Validate tests configuration validation rules.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			"missing service name",
			Config{},
			ErrMissingServiceName,
		},
		{
			"minimal valid",
			Config{ServiceName: "queryops"},
			nil,
		},
		{
			"bad tracing exporter",
			Config{ServiceName: "q", Tracing: TracingConfig{Enabled: true, Exporter: "zipkin"}},
			ErrInvalidTracingExporter,
		},
		{
			"bad sample pct",
			Config{ServiceName: "q", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}},
			ErrInvalidSamplePct,
		},
		{
			"bad metrics exporter",
			Config{ServiceName: "q", Metrics: MetricsConfig{Enabled: true, Exporter: "statsd"}},
			ErrInvalidMetricsExporter,
		},
		{
			"bad log level",
			Config{ServiceName: "q", Logging: LoggingConfig{Enabled: true, Level: "verbose"}},
			ErrInvalidLogLevel,
		},
		{
			"all subsystems valid",
			Config{
				ServiceName: "q",
				Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 0.5},
				Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
				Logging:     LoggingConfig{Enabled: true, Level: "debug"},
			},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestNewObserver_Disabled verifies disabled subsystems yield usable no-ops.
func TestNewObserver_Disabled(t *testing.T) {
	ctx := context.Background()
	obs, err := NewObserver(ctx, Config{ServiceName: "queryops"})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	if obs.Tracer() == nil {
		t.Error("Tracer() is nil")
	}
	if obs.Meter() == nil {
		t.Error("Meter() is nil")
	}
	if obs.Logger() == nil {
		t.Error("Logger() is nil")
	}

	// No-op primitives work without panicking.
	_, span := obs.Tracer().Start(ctx, "noop")
	span.End()
	obs.Logger().Info(ctx, "nothing happens")
}

// TestNewObserver_Enabled verifies providers assemble with discard exporters.
func TestNewObserver_Enabled(t *testing.T) {
	ctx := context.Background()
	obs, err := NewObserver(ctx, Config{
		ServiceName: "queryops",
		Version:     "test",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.0},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
		Logging:     LoggingConfig{Enabled: true, Level: "error"},
	})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}

	tracer := NewTracer(obs.Tracer())
	fctx, span := tracer.StartFetch(ctx, QueryMeta{Hash: "todos", Group: "todos"})
	if fctx == nil {
		t.Error("StartFetch returned nil context")
	}
	tracer.EndFetch(span, nil, false)
	tracer.EndFetch(span, errors.New("late"), true) // canceled: no error status
	tracer.EndFetch(nil, nil, false)                // nil span is tolerated

	if err := obs.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

// TestNewObserver_InvalidConfig verifies validation failures propagate.
func TestNewObserver_InvalidConfig(t *testing.T) {
	_, err := NewObserver(context.Background(), Config{})
	if !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("NewObserver() error = %v, want ErrMissingServiceName", err)
	}
}
