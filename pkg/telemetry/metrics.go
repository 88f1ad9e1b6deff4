package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the cluster manager.
type Metrics struct {
	config MetricsConfig

	// Command metrics
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Task metrics
	tasksStarted     *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	callbacksDropped *prometheus.CounterVec

	// Mapping and concern metrics
	mappingUpdates *prometheus.CounterVec
	concerns       *prometheus.GaugeVec

	// Audit metrics
	auditRecords *prometheus.CounterVec

	// Retention metrics
	rotationDeleted *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	// System metrics
	activeTasks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of manager commands by result",
			},
			[]string{"command", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of manager commands in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),

		tasksStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_started_total",
				Help:      "Total number of tasks launched",
			},
			[]string{"object_type"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Total number of tasks that reached a terminal status",
			},
			[]string{"status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of tasks from launch to terminal status",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		callbacksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_callbacks_dropped_total",
				Help:      "Runner callbacks dropped for unknown or finished tasks",
			},
			[]string{"reason"},
		),

		mappingUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mapping_updates_total",
				Help:      "Total number of host-component mapping updates",
			},
			[]string{"result"},
		),
		concerns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "concerns",
				Help:      "Current number of concern items by type",
			},
			[]string{"type"},
		),

		auditRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_total",
				Help:      "Total number of audit records written",
			},
			[]string{"kind", "result"},
		),

		rotationDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotation_deleted_total",
				Help:      "Total number of rows or artifacts removed by rotation",
			},
			[]string{"target"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by wire code",
			},
			[]string{"code"},
		),

		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tasks",
				Help:      "Current number of tasks not yet finished",
			},
		),
	}

	registry.MustRegister(
		m.commands,
		m.commandDuration,
		m.tasksStarted,
		m.tasksFinished,
		m.taskDuration,
		m.callbacksDropped,
		m.mappingUpdates,
		m.concerns,
		m.auditRecords,
		m.rotationDeleted,
		m.errorsByKind,
		m.errorsByCode,
		m.activeTasks,
	)

	return m, nil
}

// RecordCommand records a completed manager command.
func (m *Metrics) RecordCommand(command, result string, duration time.Duration) {
	if m == nil || m.commands == nil {
		return
	}
	m.commands.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordTaskStarted increments the counter for launched tasks.
func (m *Metrics) RecordTaskStarted(objectType string) {
	if m == nil || m.tasksStarted == nil {
		return
	}
	m.tasksStarted.WithLabelValues(objectType).Inc()
	m.activeTasks.Inc()
}

// RecordTaskFinished records a task reaching a terminal status.
func (m *Metrics) RecordTaskFinished(status string, duration time.Duration) {
	if m == nil || m.tasksFinished == nil {
		return
	}
	m.tasksFinished.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeTasks.Dec()
}

// RecordCallbackDropped counts a runner callback that was ignored.
func (m *Metrics) RecordCallbackDropped(reason string) {
	if m == nil || m.callbacksDropped == nil {
		return
	}
	m.callbacksDropped.WithLabelValues(reason).Inc()
}

// RecordMappingUpdate records a set_mapping outcome.
func (m *Metrics) RecordMappingUpdate(result string) {
	if m == nil || m.mappingUpdates == nil {
		return
	}
	m.mappingUpdates.WithLabelValues(result).Inc()
}

// SetConcernCount sets the current number of concerns of one type.
func (m *Metrics) SetConcernCount(concernType string, count float64) {
	if m == nil || m.concerns == nil {
		return
	}
	m.concerns.WithLabelValues(concernType).Set(count)
}

// RecordAudit counts an audit record. kind is "operation" or "login".
func (m *Metrics) RecordAudit(kind, result string) {
	if m == nil || m.auditRecords == nil {
		return
	}
	m.auditRecords.WithLabelValues(kind, result).Inc()
}

// RecordRotation counts rows or artifacts removed by one rotation target.
func (m *Metrics) RecordRotation(target string, deleted int) {
	if m == nil || m.rotationDeleted == nil || deleted <= 0 {
		return
	}
	m.rotationDeleted.WithLabelValues(target).Add(float64(deleted))
}

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(kind, code string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Registry returns the private registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures the duration of a command.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
