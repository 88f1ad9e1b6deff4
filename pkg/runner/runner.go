package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	taskFile      = "task.json"
	terminateFile = "terminate"
	jobsDir       = "jobs"
	eventsDir     = "events"
)

// JobDescriptor is what the supervisor needs to run one job.
type JobDescriptor struct {
	TaskID        int64                   `json:"task_id"`
	CorrelationID string                  `json:"correlation_id"`
	Job           *model.JobLog           `json:"job"`
	Object        model.Ref               `json:"object"`
	HostID        int64                   `json:"host_id,omitempty"`
	Config        model.Tree              `json:"config,omitempty"`
	BundlePath    string                  `json:"bundle_path"`
	Inventory     []actions.InventoryHost `json:"inventory"`
	Verbose       bool                    `json:"verbose"`
}

// Terminate is the content of a termination marker.
type Terminate struct {
	TaskID      int64     `json:"task_id"`
	RequestedAt time.Time `json:"requested_at"`
}

var _ actions.Runner = (*SpoolRunner)(nil)

// SpoolRunner publishes tasks to a spool. It implements actions.Runner.
type SpoolRunner struct {
	logger   zerolog.Logger
	spool    Spool
	parallel int
}

// NewSpoolRunner creates a runner writing to spool. parallel bounds concurrent
// job descriptor writes; 0 means 4.
func NewSpoolRunner(logger zerolog.Logger, spool Spool, parallel int) *SpoolRunner {
	if parallel <= 0 {
		parallel = 4
	}
	return &SpoolRunner{
		logger:   logger.With().Str("component", "runner").Logger(),
		spool:    spool,
		parallel: parallel,
	}
}

// TaskDir is the spool directory of a task.
func TaskDir(taskID int64) string {
	return strconv.FormatInt(taskID, 10)
}

// Start writes the job descriptors, then the task spec that makes the task
// visible to the supervisor.
func (r *SpoolRunner) Start(ctx context.Context, spec actions.TaskSpec) error {
	dir := TaskDir(spec.Task.ID)
	for _, d := range []string{path.Join(dir, jobsDir), path.Join(dir, eventsDir)} {
		if err := r.spool.MkdirAll(ctx, d); err != nil {
			return fmt.Errorf("failed to prepare spool for task %d: %w", spec.Task.ID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, job := range spec.Jobs {
		desc := JobDescriptor{
			TaskID:        spec.Task.ID,
			CorrelationID: spec.Task.CorrelationID,
			Job:           job,
			Object:        spec.Task.Object,
			HostID:        spec.Task.HostID,
			Config:        spec.Task.Config,
			Inventory:     spec.Inventory,
			Verbose:       spec.Task.Verbose,
		}
		if spec.Bundle != nil {
			desc.BundlePath = spec.Bundle.Path
		}
		g.Go(func() error {
			return r.write(gctx, path.Join(dir, jobsDir, strconv.FormatInt(job.ID, 10)+".json"), desc)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to publish jobs of task %d: %w", spec.Task.ID, err)
	}
	if err := r.write(ctx, path.Join(dir, taskFile), spec); err != nil {
		return fmt.Errorf("failed to publish task %d: %w", spec.Task.ID, err)
	}

	r.logger.Info().
		Int64("task_id", spec.Task.ID).
		Int("jobs", len(spec.Jobs)).
		Str("correlation_id", spec.Task.CorrelationID).
		Msg("Task published")
	return nil
}

// Terminate drops a termination marker next to the task spec.
func (r *SpoolRunner) Terminate(ctx context.Context, taskID int64) error {
	dir := TaskDir(taskID)
	ok, err := r.spool.Exists(ctx, path.Join(dir, taskFile))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %d is not in the spool", taskID)
	}
	if err := r.write(ctx, path.Join(dir, terminateFile), Terminate{TaskID: taskID, RequestedAt: time.Now().UTC()}); err != nil {
		return err
	}
	r.logger.Info().Int64("task_id", taskID).Msg("Termination marker written")
	return nil
}

// Tasks maps the task ids that have a spool directory to the last time
// anything in that directory or its direct entries changed.
func (r *SpoolRunner) Tasks(ctx context.Context) (map[int64]time.Time, error) {
	names, err := r.spool.ReadDir(ctx, "/")
	if err != nil {
		return nil, err
	}
	out := make(map[int64]time.Time)
	for _, n := range names {
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		dir := TaskDir(id)
		latest, err := r.spool.ModTime(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to stat spool of task %d: %w", id, err)
		}
		entries, err := r.spool.ReadDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if mt, err := r.spool.ModTime(ctx, path.Join(dir, e)); err == nil && mt.After(latest) {
				latest = mt
			}
		}
		out[id] = latest
	}
	return out, nil
}

// Purge removes the spool directory of a task.
func (r *SpoolRunner) Purge(ctx context.Context, taskID int64) error {
	if err := r.spool.RemoveAll(ctx, TaskDir(taskID)); err != nil {
		return fmt.Errorf("failed to purge task %d: %w", taskID, err)
	}
	return nil
}

func (r *SpoolRunner) write(ctx context.Context, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return r.spool.WriteFile(ctx, name, data)
}
