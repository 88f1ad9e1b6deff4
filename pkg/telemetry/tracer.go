package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys set by the manager.
var (
	AttrCommand    = attribute.Key("adcm.command")
	AttrObjectType = attribute.Key("adcm.object.type")
	AttrObjectID   = attribute.Key("adcm.object.id")
	AttrErrorKind  = attribute.Key("adcm.error.kind")
	AttrErrorCode  = attribute.Key("adcm.error.code")
)

// Tracer owns the span provider of the process.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer. A disabled config or the "none" exporter yields
// spans that are sampled but never exported.
func NewTracer(cfg TracingConfig, service, version, env string) (*Tracer, error) {
	if !cfg.Enabled {
		p := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{provider: p, tracer: p.Tracer(service)}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
		attribute.String("deployment.environment", env),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	exp, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	p := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &Tracer{provider: p, tracer: p.Tracer(service)}, nil
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
}

// StartCommand opens the span of one manager command.
func (t *Tracer) StartCommand(ctx context.Context, command, objectType string, objectID int64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "command."+command, trace.WithAttributes(
		AttrCommand.String(command),
		AttrObjectType.String(objectType),
		AttrObjectID.Int64(objectID),
	))
}

// finishSpan sets the span status from err and ends it. kind and code are the
// classification of err when it is a manager error.
func finishSpan(span trace.Span, err error, kind, code string) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(err)
		if kind != "" {
			span.SetAttributes(AttrErrorKind.String(kind), AttrErrorCode.String(code))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
