package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of a
// manager.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and builds every part.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that logs and exports nothing. Events are delivered
// inline, so subscribers see them before Publish returns.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Events.Async = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}
}

// Shutdown drains the event publisher, then flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// StartMetricsServer serves the metrics endpoint when metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Command is one instrumented manager command. Ctx carries its span and logger.
type Command struct {
	Ctx    context.Context
	Logger *Logger

	name    string
	span    trace.Span
	timer   *Timer
	metrics *Metrics
}

// StartCommand opens the span of a command on an object and a logger tagged
// with the object and the trace.
func (t *Telemetry) StartCommand(ctx context.Context, name, objectType string, objectID int64) *Command {
	ctx, span := t.Tracer.StartCommand(ctx, name, objectType, objectID)
	logger := t.Logger.WithField("command", name).WithObject(objectType, objectID)
	if id := TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	return &Command{
		Ctx:     logger.WithContext(ctx),
		Logger:  logger,
		name:    name,
		span:    span,
		timer:   NewTimer(),
		metrics: t.Metrics,
	}
}

// End closes the command. kind and code classify a failed command; they are
// empty for errors the manager does not classify.
func (c *Command) End(err error, kind, code string) {
	finishSpan(c.span, err, kind, code)
	result := "success"
	if err != nil {
		result = "fail"
		if kind != "" {
			c.metrics.RecordError(kind, code)
		}
	}
	c.metrics.RecordCommand(c.name, result, c.timer.Duration())
}
