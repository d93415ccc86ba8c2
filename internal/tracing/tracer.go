package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the lifecycle of the OpenTelemetry tracer.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// NewTracerProvider wires the OTLP gRPC exporter and installs the provider
// globally.
func NewTracerProvider(serviceName, serviceVersion, otlpEndpoint string) (*TracerProvider, error) {
	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(), // TODO: Add TLS configuration
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.ServiceNamespaceKey.String("authz-core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// CheckTracer spans the stages of the permission check pipeline.
type CheckTracer struct {
	tracer trace.Tracer
}

func NewCheckTracer(serviceName string) *CheckTracer {
	return &CheckTracer{tracer: otel.Tracer(serviceName)}
}

// StartCheckSpan opens the root span for one permission check.
func (ct *CheckTracer) StartCheckSpan(ctx context.Context, userProfileID, resource, action string) (context.Context, trace.Span) {
	return ct.tracer.Start(ctx, "permission_check",
		trace.WithAttributes(
			attribute.String("check.user", userProfileID),
			attribute.String("check.resource", resource),
			attribute.String("check.action", action),
			attribute.String("component", "check-engine"),
		),
	)
}

// StartStageSpan opens a child span for one pipeline stage, such as matrix,
// cache, or database resolution.
func (ct *CheckTracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return ct.tracer.Start(ctx, "check_stage",
		trace.WithAttributes(
			attribute.String("check.stage", stage),
			attribute.String("component", "check-engine"),
		),
	)
}

// StartInvalidationSpan opens a span for a cache invalidation fan-out.
func (ct *CheckTracer) StartInvalidationSpan(ctx context.Context, entityType, entityID string) (context.Context, trace.Span) {
	return ct.tracer.Start(ctx, "cache_invalidation",
		trace.WithAttributes(
			attribute.String("invalidation.entity_type", entityType),
			attribute.String("invalidation.entity_id", entityID),
			attribute.String("component", "invalidation"),
		),
	)
}

// RecordDecision annotates the check span with the outcome.
func (ct *CheckTracer) RecordDecision(span trace.Span, allowed bool, source string, duration time.Duration) {
	span.SetAttributes(
		attribute.Bool("check.allowed", allowed),
		attribute.String("check.source", source),
		attribute.Int64("check.duration_ms", duration.Milliseconds()),
	)
}

// RecordError records a failure on a span.
func (ct *CheckTracer) RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
	span.RecordError(err)
}

var globalCheckTracer *CheckTracer

// InitGlobalTracer initializes the process-wide check tracer.
func InitGlobalTracer(serviceName string) {
	globalCheckTracer = NewCheckTracer(serviceName)
}

// GetGlobalTracer returns the process-wide check tracer, or nil before init.
func GetGlobalTracer() *CheckTracer {
	return globalCheckTracer
}
