package retention

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/openadcm/adcm/pkg/audit"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/rs/zerolog"
)

// TaskDeleter removes a terminal task with its jobs and logs.
type TaskDeleter interface {
	DeleteTask(tx *stores.Tx, taskID int64) error
}

// Artifacts lists and removes per-task run artifacts. Tasks maps each task id
// with artifacts to their last modification time.
type Artifacts interface {
	Tasks(ctx context.Context) (map[int64]time.Time, error)
	Purge(ctx context.Context, taskID int64) error
}

// AuditLog selects and deletes aged audit records.
type AuditLog interface {
	Expired(ctx context.Context, cutoff time.Time) (*audit.Batch, error)
	Purge(ctx context.Context, b *audit.Batch) error
}

// ConfigSource returns the current config of an entity.
type ConfigSource interface {
	Current(tx *stores.Tx, ref model.Ref) (*model.ConfigLog, error)
}

// Options wires the optional targets of a Rotator. A nil collaborator skips
// its target.
type Options struct {
	Tasks      TaskDeleter
	Artifacts  Artifacts
	Audit      AuditLog
	Configs    ConfigSource
	ArchiveDir string
	Uploader   Uploader
	Metrics    *telemetry.Metrics
}

// Report counts what one rotation removed.
type Report struct {
	Artifacts  int    `json:"artifacts"`
	Tasks      int    `json:"tasks"`
	Configs    int    `json:"configs"`
	Operations int    `json:"operations"`
	Logins     int    `json:"logins"`
	Objects    int    `json:"objects"`
	Archive    string `json:"archive,omitempty"`
}

// Rotator applies a Policy.
type Rotator struct {
	logger zerolog.Logger
	graph  *stores.Graph
	policy Policy
	opts   Options
	now    func() time.Time
}

// NewRotator creates a rotator with file-level settings.
func NewRotator(logger zerolog.Logger, graph *stores.Graph, policy Policy, opts Options) *Rotator {
	return &Rotator{
		logger: logger.With().Str("component", "retention").Logger(),
		graph:  graph,
		policy: policy,
		opts:   opts,
		now:    time.Now,
	}
}

// Effective returns the policy after applying the ADCM config overrides.
func (r *Rotator) Effective(ctx context.Context) Policy {
	p := r.policy
	if r.opts.Configs == nil {
		return p
	}
	_ = r.graph.View(ctx, func(tx *stores.Tx) error {
		adcm, err := tx.ADCMObject()
		if err != nil {
			return nil
		}
		cl, err := r.opts.Configs.Current(tx, adcm.Ref())
		if err != nil {
			return nil
		}
		p = p.Override(cl.Config)
		return nil
	})
	return p
}

func (r *Rotator) cutoff(days int) time.Time {
	return r.now().AddDate(0, 0, -days)
}

// Rotate runs every enabled target once. A failing target does not stop the
// others; their errors are joined.
func (r *Rotator) Rotate(ctx context.Context) (Report, error) {
	p := r.Effective(ctx)
	var rep Report
	var errs []error

	if p.JobsOnFS > 0 && r.opts.Artifacts != nil {
		n, err := r.rotateArtifacts(ctx, r.cutoff(p.JobsOnFS))
		rep.Artifacts = n
		errs = append(errs, wrap("run artifacts", err))
		r.opts.Metrics.RecordRotation("jobs_on_fs", n)
	}
	if p.JobsInDB > 0 && r.opts.Tasks != nil {
		n, err := r.rotateTasks(ctx, r.cutoff(p.JobsInDB))
		rep.Tasks = n
		errs = append(errs, wrap("tasks", err))
		r.opts.Metrics.RecordRotation("jobs_in_db", n)
	}
	if p.ConfigInDB > 0 {
		n, err := r.rotateConfigs(ctx, r.cutoff(p.ConfigInDB))
		rep.Configs = n
		errs = append(errs, wrap("config history", err))
		r.opts.Metrics.RecordRotation("config_in_db", n)
	}
	if p.AuditDays > 0 && r.opts.Audit != nil {
		err := r.rotateAudit(ctx, r.cutoff(p.AuditDays), p.AuditArchive, &rep)
		errs = append(errs, wrap("audit", err))
		r.opts.Metrics.RecordRotation("audit", rep.Operations+rep.Logins+rep.Objects)
	}

	err := errors.Join(errs...)
	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Error().Err(err)
	}
	ev.Int("artifacts", rep.Artifacts).
		Int("tasks", rep.Tasks).
		Int("configs", rep.Configs).
		Int("audit_operations", rep.Operations).
		Int("audit_logins", rep.Logins).
		Str("archive", rep.Archive).
		Msg("Rotation finished")
	return rep, err
}

func wrap(target string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to rotate %s: %w", target, err)
}

func expired(t *model.TaskLog, cutoff time.Time) bool {
	return t.Status.IsTerminal() && !t.FinishDate.IsZero() && t.FinishDate.Before(cutoff)
}

// rotateArtifacts ages artifacts by the finish date of their task, or by their
// own modification time once the task row is gone. Artifacts of unfinished
// tasks are kept.
func (r *Rotator) rotateArtifacts(ctx context.Context, cutoff time.Time) (int, error) {
	ages, err := r.opts.Artifacts.Tasks(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, 0, len(ages))
	for id := range ages {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var stale []int64
	_ = r.graph.View(ctx, func(tx *stores.Tx) error {
		for _, id := range ids {
			t, ok := tx.Tasks.Get(id)
			switch {
			case !ok:
				if ages[id].Before(cutoff) {
					stale = append(stale, id)
				}
			case expired(t, cutoff):
				stale = append(stale, id)
			}
		}
		return nil
	})
	n := 0
	for _, id := range stale {
		if err := r.opts.Artifacts.Purge(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Rotator) rotateTasks(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := r.graph.Update(ctx, func(tx *stores.Tx) error {
		for _, t := range tx.Tasks.Find(func(t *model.TaskLog) bool { return expired(t, cutoff) }) {
			if err := r.opts.Tasks.DeleteTask(tx, t.ID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Rotator) rotateConfigs(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := r.graph.Update(ctx, func(tx *stores.Tx) error {
		stale := tx.ConfigLogs.Find(func(c *model.ConfigLog) bool {
			if !c.Date.Before(cutoff) {
				return false
			}
			oc, ok := tx.ObjectConfigs.Get(c.ObjConfID)
			return !ok || !oc.Pinned(c.ID)
		})
		for _, c := range stale {
			tx.ConfigLogs.Delete(c.ID)
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Rotator) rotateAudit(ctx context.Context, cutoff time.Time, archive bool, rep *Report) error {
	b, err := r.opts.Audit.Expired(ctx, cutoff)
	if err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	if archive && r.opts.ArchiveDir != "" {
		path, err := WriteArchive(ctx, r.opts.ArchiveDir, r.now(), b)
		if err != nil {
			return err
		}
		rep.Archive = path
		if r.opts.Uploader != nil {
			if err := r.opts.Uploader.Upload(ctx, path); err != nil {
				return err
			}
		}
	}
	if err := r.opts.Audit.Purge(ctx, b); err != nil {
		return err
	}
	rep.Operations, rep.Logins, rep.Objects = len(b.Operations), len(b.Logins), len(b.Objects)
	return nil
}

// Run rotates on every tick until ctx is done.
func (r *Rotator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = r.Rotate(ctx)
		}
	}
}
