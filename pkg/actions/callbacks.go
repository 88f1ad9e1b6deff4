package actions

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// Report applies a runner callback. Callbacks of one task are applied one at a time.
// A callback for an unknown or finished task, or one that does not move a status
// forward, is dropped with a warning and reported as success.
func (r *Runtime) Report(ctx context.Context, cb Callback) error {
	if err := cb.Status.Validate(); err != nil {
		return model.InvalidInput(model.ErrCodeInvalidInput, "%v", err)
	}
	mu := r.taskLock(cb.TaskID)
	mu.Lock()
	defer mu.Unlock()

	var finished *model.TaskLog
	err := r.graph.Update(ctx, func(tx *stores.Tx) error {
		task, ok := tx.Tasks.Get(cb.TaskID)
		if !ok {
			r.drop(cb, "unknown_task")
			return nil
		}
		if task.Status.IsTerminal() {
			r.drop(cb, "terminal_task")
			return nil
		}
		if cb.JobID != 0 {
			return r.reportJob(tx, task, cb)
		}
		if cb.Status == model.JobStatusCreated {
			r.drop(cb, "invalid_transition")
			return nil
		}
		r.markRunning(tx, task)
		if cb.Status.IsTerminal() {
			if err := r.finish(tx, task, cb.Status); err != nil {
				return err
			}
			finished = task
		}
		return nil
	})
	if err != nil {
		return err
	}
	if finished != nil {
		r.finished(finished)
	}
	return nil
}

func (r *Runtime) drop(cb Callback, reason string) {
	r.metrics.RecordCallbackDropped(reason)
	r.logger.Warn().
		Int64("task_id", cb.TaskID).
		Int64("job_id", cb.JobID).
		Str("status", string(cb.Status)).
		Str("reason", reason).
		Msg("Dropping runner callback")
}

// markRunning moves a created task to running.
func (r *Runtime) markRunning(tx *stores.Tx, task *model.TaskLog) {
	if task.Status != model.JobStatusCreated {
		return
	}
	task.Status = model.JobStatusRunning
	task.StartDate = r.now().UTC()
	tx.Tasks.Put(task)
}

func (r *Runtime) reportJob(tx *stores.Tx, task *model.TaskLog, cb Callback) error {
	job, ok := tx.Jobs.Get(cb.JobID)
	if !ok || job.TaskID != task.ID {
		r.drop(cb, "unknown_job")
		return nil
	}
	if job.Status == cb.Status || job.Status.IsTerminal() || cb.Status == model.JobStatusCreated {
		r.drop(cb, "invalid_transition")
		return nil
	}
	r.markRunning(tx, task)

	now := r.now().UTC()
	if job.Status == model.JobStatusCreated {
		job.Status = model.JobStatusRunning
		job.StartDate = now
	}
	if cb.Status.IsTerminal() {
		job.Status = cb.Status
		job.FinishDate = now
	}
	tx.Jobs.Put(job)
	return nil
}

// finish moves a task to a terminal status and applies the outcome: state effects on
// the target, mapping rollback on failure and lock removal.
func (r *Runtime) finish(tx *stores.Tx, task *model.TaskLog, status model.JobStatus) error {
	now := r.now().UTC()
	if task.Status == model.JobStatusCreated {
		task.StartDate = now
	}

	var failedJob *model.JobLog
	for _, job := range JobsOf(tx, task.ID) {
		if job.Status == model.JobStatusRunning {
			job.Status = status
			job.FinishDate = now
			tx.Jobs.Put(job)
		}
		if job.Status == model.JobStatusFailed && failedJob == nil {
			failedJob = job
		}
	}

	action, err := tx.Action(task.ActionID)
	if err != nil {
		r.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Task action is gone, skipping state effects")
	} else {
		status = r.applyOutcome(tx, task, action, status, failedJob)
	}

	if task.LockID != 0 {
		r.concerns.Delete(tx, task.LockID)
		task.LockID = 0
	}
	task.Status = status
	task.FinishDate = now
	tx.Tasks.Put(task)
	return nil
}

// applyOutcome applies state effects and returns the final status: a successful
// upgrade task fails when its bundle cannot be switched.
func (r *Runtime) applyOutcome(tx *stores.Tx, task *model.TaskLog, action *definition.Action, status model.JobStatus, failedJob *model.JobLog) model.JobStatus {
	if _, err := tx.Entity(task.Object); err != nil {
		return status
	}

	if status == model.JobStatusSuccess && action.UpgradeName != "" && r.upgrader != nil {
		proto, err := tx.Prototype(action.PrototypeID)
		if err == nil {
			err = r.upgrader.SwitchBundle(tx, task.Object, proto.BundleID)
		}
		if err != nil {
			r.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to switch bundle after upgrade")
			status = model.JobStatusFailed
		}
	}

	ent, err := tx.Entity(task.Object)
	if err != nil {
		return status
	}
	obj := ent.Base()
	if status == model.JobStatusSuccess {
		applyEffects(obj, action.StateOnSuccess, action.MultiStateOnSuccess)
	} else {
		state := action.StateOnFail
		if failedJob != nil && failedJob.StateOnFail != "" {
			state = failedJob.StateOnFail
		}
		applyEffects(obj, state, action.MultiStateOnFail)
	}
	tx.PutEntity(ent)

	if status == model.JobStatusFailed && (len(task.HostComponentMap) > 0 || len(task.PrevHostComponentMap) > 0) {
		if clusterID := tx.ClusterOf(task.Object); clusterID != 0 {
			r.mapping.Apply(tx, clusterID, task.PrevHostComponentMap)
			r.logger.Info().Int64("task_id", task.ID).Int64("cluster_id", clusterID).Msg("Mapping restored")
		}
	}
	return status
}

func applyEffects(obj *model.Object, state string, multi definition.MultiStateEffect) {
	if state != "" {
		obj.State = state
	}
	for _, flag := range multi.Set {
		obj.SetMultiState(flag)
	}
	for _, flag := range multi.Unset {
		obj.UnsetMultiState(flag)
	}
}

// finished records metrics and events of a committed terminal transition.
func (r *Runtime) finished(task *model.TaskLog) {
	duration := task.FinishDate.Sub(task.StartDate)
	r.metrics.RecordTaskFinished(string(task.Status), duration)
	_ = r.events.PublishTaskFinished(task.ID, task.CorrelationID, string(task.Status), duration)
	r.logger.Info().
		Int64("task_id", task.ID).
		Str("status", string(task.Status)).
		Dur("duration", duration).
		Msg("Task finished")
}

// Terminate asks the runner to stop a task. The lock is released when the runner
// reports the terminal status.
func (r *Runtime) Terminate(ctx context.Context, taskID int64) error {
	err := r.graph.View(ctx, func(tx *stores.Tx) error {
		task, err := tx.Task(taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return model.Conflict(model.ErrCodeActionConflict, "task %d is already %s", taskID, task.Status)
		}
		action, err := tx.Action(task.ActionID)
		if err != nil {
			return err
		}
		if !action.AllowToTerminate {
			return model.Conflict(model.ErrCodeActionConflict, "action %q does not allow termination", action.Name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if r.runner == nil {
		return r.abort(ctx, taskID)
	}
	if err := r.runner.Terminate(ctx, taskID); err != nil {
		return fmt.Errorf("failed to terminate task %d: %w", taskID, err)
	}
	r.logger.Info().Int64("task_id", taskID).Msg("Termination requested")
	return nil
}

// AbortOwn fails the unfinished tasks launched on refs, before refs are deleted,
// and returns their ids. A lock held on one of refs by a task of another object
// is a LOCK_ERROR.
func (r *Runtime) AbortOwn(tx *stores.Tx, refs ...model.Ref) ([]int64, error) {
	own := func(o model.Ref) bool { return slices.Contains(refs, o) }
	for _, ref := range refs {
		items, err := r.concerns.Of(tx, ref)
		if err != nil {
			return nil, err
		}
		for _, c := range items {
			if c.Type == model.ConcernLock && !own(c.Owner) {
				return nil, model.Errorf(model.KindLockError, model.ErrCodeLockError,
					"%s is locked by a task on %s", ref, c.Owner)
			}
		}
	}

	tasks := tx.Tasks.Find(func(t *model.TaskLog) bool {
		return own(t.Object) && t.Status.IsActive()
	})
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	ids := make([]int64, 0, len(tasks))
	now := r.now().UTC()
	for _, task := range tasks {
		for _, job := range JobsOf(tx, task.ID) {
			if job.Status.IsActive() {
				if job.Status == model.JobStatusCreated {
					job.StartDate = now
				}
				job.Status = model.JobStatusFailed
				job.FinishDate = now
				tx.Jobs.Put(job)
			}
		}
		if task.LockID != 0 {
			r.concerns.Delete(tx, task.LockID)
			task.LockID = 0
		}
		task.Status = model.JobStatusFailed
		task.FinishDate = now
		tx.Tasks.Put(task)
		ids = append(ids, task.ID)
	}
	return ids, nil
}

// Signal tells the runner to stop tasks aborted by AbortOwn. Errors are logged.
func (r *Runtime) Signal(ctx context.Context, taskIDs []int64) {
	if r.runner == nil {
		return
	}
	for _, id := range taskIDs {
		if err := r.runner.Terminate(ctx, id); err != nil {
			r.logger.Warn().Err(err).Int64("task_id", id).Msg("Failed to signal aborted task")
		}
	}
}
