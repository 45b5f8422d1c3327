// Package observability exports evaluation spans and metrics over OTLP.
// A disabled Provider hands out the global no-op tracer and meter, so the
// executor instruments unconditionally.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "weave.engine"

// Config selects the collector and the sampling of evaluation spans.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC host:port
	SampleRate     float64
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns a disabled config pointing at a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "weave",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
	}
}

// instruments are the engine's metrics. Every field is nil on a disabled
// provider.
type instruments struct {
	evaluations  metric.Int64Counter
	failures     metric.Int64Counter
	inFlight     metric.Int64UpDownCounter
	latency      metric.Float64Histogram
	interactions metric.Int64Counter
	gas          metric.Int64Counter
}

// Provider owns the trace and metric pipelines of one engine process.
type Provider struct {
	cfg    *Config
	logger *slog.Logger

	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer
	meter   metric.Meter

	inst instruments
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{cfg: &Config{}, logger: slog.Default().With("component", "observability")}
}

// New builds both pipelines and installs them as the OpenTelemetry globals.
// Exporters dial lazily, so New succeeds without a reachable collector.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := Disabled()
	p.cfg = cfg
	if !cfg.Enabled {
		p.logger.DebugContext(ctx, "telemetry off")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	spanExp, err := otlptracegrpc.New(ctx, traceOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("span exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
		sdktrace.WithBatcher(spanExp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
	)
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.metrics = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
	)
	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.tracer = p.traces.Tracer(scope, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = p.metrics.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if p.inst, err = newInstruments(p.meter); err != nil {
		return nil, fmt.Errorf("engine instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry exporting",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func traceOptions(cfg *Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func metricOptions(cfg *Config) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newInstruments(m metric.Meter) (instruments, error) {
	var (
		in   instruments
		errs []error
		err  error
	)
	in.evaluations, err = m.Int64Counter("weave.evaluations",
		metric.WithDescription("Evaluations started, foreign reads included"),
		metric.WithUnit("{evaluation}"))
	errs = append(errs, err)
	in.failures, err = m.Int64Counter("weave.evaluation.failures",
		metric.WithDescription("Evaluations that returned an error"),
		metric.WithUnit("{evaluation}"))
	errs = append(errs, err)
	in.inFlight, err = m.Int64UpDownCounter("weave.evaluations.in_flight",
		metric.WithUnit("{evaluation}"))
	errs = append(errs, err)
	in.latency, err = m.Float64Histogram("weave.evaluation.duration",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30))
	errs = append(errs, err)
	in.interactions, err = m.Int64Counter("weave.interactions",
		metric.WithDescription("Interactions replayed, labelled by validity"),
		metric.WithUnit("{interaction}"))
	errs = append(errs, err)
	in.gas, err = m.Int64Counter("weave.gas",
		metric.WithDescription("Gas charged by metered runtimes"),
		metric.WithUnit("{gas}"))
	errs = append(errs, err)
	return in, errors.Join(errs...)
}

// Shutdown flushes both pipelines. Flush failures are only logged.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			p.logger.WarnContext(ctx, "span flush failed", "error", err)
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			p.logger.WarnContext(ctx, "metric flush failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the engine tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer != nil {
		return p.tracer
	}
	return otel.Tracer(scope)
}

// Meter returns the engine meter, or the global one when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter != nil {
		return p.meter
	}
	return otel.Meter(scope)
}

// TrackOperation opens a span for one evaluation step and counts it. The
// returned function closes the span, records the latency and counts a
// failure when err is non-nil. It must be called exactly once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	started := time.Now()
	set := metric.WithAttributes(attrs...)
	ctx, span := p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))

	if p.inst.evaluations != nil {
		p.inst.evaluations.Add(ctx, 1, set)
		p.inst.inFlight.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		defer span.End()
		if p.inst.evaluations != nil {
			p.inst.inFlight.Add(ctx, -1, set)
			p.inst.latency.Record(ctx, time.Since(started).Seconds(), set)
		}
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.inst.failures != nil {
			p.inst.failures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
		}
	}
}

// RecordOutcome counts the interactions of a finished replay by validity,
// adds the gas it charged and annotates the current span.
func (p *Provider) RecordOutcome(ctx context.Context, interactions, valid int, gas uint64) {
	SetSpanAttributes(ctx, Outcome(interactions, valid, gas)...)
	if p.inst.interactions == nil {
		return
	}
	p.inst.interactions.Add(ctx, int64(valid), metric.WithAttributes(AttrTxValid.Bool(true)))
	p.inst.interactions.Add(ctx, int64(interactions-valid), metric.WithAttributes(AttrTxValid.Bool(false)))
	if gas > 0 {
		p.inst.gas.Add(ctx, int64(gas))
	}
}
