// Package telemetry provides optional, OTLP/HTTP-exported per-build
// tracing and metrics for the runner (C6). It is wired only when
// OPENWRT_BUILDER_OTLP_ENDPOINT is set; otherwise every operation is a
// no-op so the runner never depends on a collector being reachable.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/openwrt-builder/builder/internal/model"
)

const instrumentationName = "github.com/openwrt-builder/builder/internal/runner"

// Build is the runner's telemetry handle: one tracer for per-build
// spans and one counter for build outcomes. The zero value is a valid
// no-op handle.
type Build struct {
	tracer        trace.Tracer
	outcomeCounter metric.Int64Counter
	shutdown      func(context.Context) error
}

// Setup wires an OTLP/HTTP trace exporter and a meter provider when
// endpoint is non-empty; it returns a no-op Build (and a no-op
// shutdown) when endpoint is empty, per SPEC_FULL.md's
// OPENWRT_BUILDER_OTLP_ENDPOINT gating.
func Setup(ctx context.Context, endpoint string) (*Build, error) {
	if endpoint == "" {
		return &Build{shutdown: func(context.Context) error { return nil }}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("openwrt-builder-runner"),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: new otlp trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(instrumentationName)
	counter, err := meter.Int64Counter("openwrt_builder_build_outcomes_total",
		metric.WithDescription("Count of completed builds by terminal state."))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create outcome counter: %w", err)
	}

	b := &Build{
		tracer:         tracerProvider.Tracer(instrumentationName),
		outcomeCounter: counter,
		shutdown: func(ctx context.Context) error {
			if err := tracerProvider.Shutdown(ctx); err != nil {
				return err
			}
			return meterProvider.Shutdown(ctx)
		},
	}
	return b, nil
}

// Shutdown flushes and releases any exporters held by b.
func (b *Build) Shutdown(ctx context.Context) error {
	if b == nil || b.shutdown == nil {
		return nil
	}
	return b.shutdown(ctx)
}

// Span wraps the trace.Span (if any) for a single build execution.
type Span struct {
	span trace.Span
}

// StartSpan begins a span named "build" for buildID. When telemetry
// is disabled (b is nil or has no tracer), it returns a Span whose
// AddPhaseEvent/End are no-ops.
func (b *Build) StartSpan(ctx context.Context, buildID string) (context.Context, *Span) {
	if b == nil || b.tracer == nil {
		return ctx, &Span{}
	}
	ctx, span := b.tracer.Start(ctx, "build", trace.WithAttributes(attribute.String("build.id", buildID)))
	return ctx, &Span{span: span}
}

// AddPhaseEvent records a phase transition on the span.
func (s *Span) AddPhaseEvent(phase string, progress int) {
	if s == nil || s.span == nil {
		return
	}
	s.span.AddEvent(phase, trace.WithAttributes(attribute.Int("build.progress", progress)))
}

// End closes the span.
func (s *Span) End() {
	if s == nil || s.span == nil {
		return
	}
	s.span.End()
}

// RecordOutcome increments the build-outcome counter for state, if
// telemetry is enabled. It does not touch the build's span.
func (b *Build) RecordOutcome(ctx context.Context, state model.BuildState) {
	if b == nil || b.outcomeCounter == nil {
		return
	}
	b.outcomeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
}
