package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog"
)

// EventKind selects what a runner event does.
type EventKind string

const (
	EventStatus          EventKind = "status"
	EventLog             EventKind = "log"
	EventState           EventKind = "state"
	EventMultiState      EventKind = "multi_state"
	EventUnsetMultiState EventKind = "unset_multi_state"
	EventConfig          EventKind = "config"
)

// Event is one file written by the supervisor under events/. JobID 0 on a status
// event addresses the task. Object defaults to the task object.
type Event struct {
	Kind      EventKind       `json:"kind"`
	JobID     int64           `json:"job_id,omitempty"`
	Status    model.JobStatus `json:"status,omitempty"`
	Object    model.Ref       `json:"object,omitempty"`
	State     string          `json:"state,omitempty"`
	MissingOK bool            `json:"missing_ok,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     interface{}     `json:"value,omitempty"`
	Log       *LogRecord      `json:"log,omitempty"`
}

// LogRecord is a job log carried by a log event.
type LogRecord struct {
	Name   string        `json:"name"`
	Type   model.LogType `json:"type"`
	Format string        `json:"format,omitempty"`
	Body   string        `json:"body"`
}

// Sink receives runner events. *actions.Runtime implements it.
type Sink interface {
	Report(ctx context.Context, cb actions.Callback) error
	StoreLog(ctx context.Context, jobID int64, name string, typ model.LogType, format, body string) error
	SetState(ctx context.Context, jobID int64, ref model.Ref, state string) error
	SetMultiState(ctx context.Context, jobID int64, ref model.Ref, flag string) error
	UnsetMultiState(ctx context.Context, jobID int64, ref model.Ref, flag string, missingOK bool) error
	UpdateConfig(ctx context.Context, jobID int64, ref model.Ref, key string, value interface{}) (*model.ConfigLog, error)
}

var _ Sink = (*actions.Runtime)(nil)

// Collector applies runner events from a spool.
type Collector struct {
	logger zerolog.Logger
	runner *SpoolRunner
	sink   Sink
}

// NewCollector creates a collector for the tasks of runner.
func NewCollector(logger zerolog.Logger, runner *SpoolRunner, sink Sink) *Collector {
	return &Collector{
		logger: logger.With().Str("component", "collector").Logger(),
		runner: runner,
		sink:   sink,
	}
}

// Collect applies the pending events of every task and returns how many were
// applied. Events the core rejects are logged and discarded.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	ids, err := c.runner.Tasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list spool: %w", err)
	}
	applied := 0
	for id := range ids {
		n, err := c.collectTask(ctx, id)
		applied += n
		if err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (c *Collector) collectTask(ctx context.Context, taskID int64) (int, error) {
	dir := path.Join(TaskDir(taskID), eventsDir)
	names, err := c.runner.spool.ReadDir(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list events of task %d: %w", taskID, err)
	}
	applied := 0
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		file := path.Join(dir, name)
		data, err := c.runner.spool.ReadFile(ctx, file)
		if err != nil {
			return applied, fmt.Errorf("failed to read %s: %w", file, err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Error().Err(err).Str("file", file).Msg("Discarding malformed runner event")
		} else if err := c.apply(ctx, taskID, ev); err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			c.logger.Warn().Err(err).
				Int64("task_id", taskID).
				Int64("job_id", ev.JobID).
				Str("kind", string(ev.Kind)).
				Msg("Runner event rejected")
		} else {
			applied++
		}
		if err := c.runner.spool.Remove(ctx, file); err != nil {
			return applied, fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return applied, nil
}

func (c *Collector) apply(ctx context.Context, taskID int64, ev Event) error {
	switch ev.Kind {
	case EventStatus:
		return c.sink.Report(ctx, actions.Callback{TaskID: taskID, JobID: ev.JobID, Status: ev.Status})
	case EventLog:
		if ev.Log == nil {
			return fmt.Errorf("log event without log")
		}
		return c.sink.StoreLog(ctx, ev.JobID, ev.Log.Name, ev.Log.Type, ev.Log.Format, ev.Log.Body)
	case EventState:
		return c.sink.SetState(ctx, ev.JobID, ev.Object, ev.State)
	case EventMultiState:
		return c.sink.SetMultiState(ctx, ev.JobID, ev.Object, ev.State)
	case EventUnsetMultiState:
		return c.sink.UnsetMultiState(ctx, ev.JobID, ev.Object, ev.State, ev.MissingOK)
	case EventConfig:
		_, err := c.sink.UpdateConfig(ctx, ev.JobID, ev.Object, ev.Key, ev.Value)
		return err
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// Run collects events every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := c.Collect(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Event collection failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
