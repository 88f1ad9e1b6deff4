package telemetry

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the observability setup of one manager process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig selects the zerolog output.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`
	// Output is stdout, stderr or a file path opened for append.
	Output string `validate:"required"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Enabled      bool
	Exporter     string  `validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `validate:"required_if=Exporter otlp"`
	SamplingRate float64 `validate:"gte=0,lte=1"`
	Insecure     bool
}

// MetricsConfig configures the private Prometheus registry and its endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string
	Namespace     string
	// Buckets are the latency buckets in seconds; prometheus.DefBuckets when empty.
	Buckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled bool
	// Async delivers from a buffered goroutine; otherwise Publish delivers inline.
	Async      bool
	BufferSize int `validate:"required_if=Async true,gte=0"`
}

// DefaultConfig returns the configuration used when the settings file names no
// telemetry options.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "adcm",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging:        LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		Tracing:        TracingConfig{Exporter: "none", SamplingRate: 1, Insecure: true},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "adcm",
			Buckets:       []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		Events: EventsConfig{Enabled: true, Async: true, BufferSize: 1024},
	}
}

var validate = validator.New()

// Validate reports the first invalid field of c.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	if fields, ok := err.(validator.ValidationErrors); ok && len(fields) > 0 {
		f := fields[0]
		return fmt.Errorf("invalid telemetry config: %s fails %s (got %v)",
			strings.TrimPrefix(f.Namespace(), "Config."), f.Tag(), f.Value())
	}
	return fmt.Errorf("invalid telemetry config: %w", err)
}
