package actions

import (
	"context"
	"sort"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// JobsOf returns the jobs of a task in execution order.
func JobsOf(tx *stores.Tx, taskID int64) []*model.JobLog {
	jobs := tx.Jobs.Find(func(j *model.JobLog) bool { return j.TaskID == taskID })
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Order < jobs[j].Order })
	return jobs
}

// Tasks returns the tasks launched on an object, newest first.
func Tasks(tx *stores.Tx, ref model.Ref) []*model.TaskLog {
	tasks := tx.Tasks.Find(func(t *model.TaskLog) bool { return t.Object == ref })
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID > tasks[j].ID })
	return tasks
}

// ActiveTasks counts tasks that have not finished.
func ActiveTasks(tx *stores.Tx) int {
	return tx.Tasks.Count(func(t *model.TaskLog) bool { return t.Status.IsActive() })
}

// DeleteTask removes a finished task with its jobs and their logs.
func (r *Runtime) DeleteTask(tx *stores.Tx, taskID int64) error {
	task, err := tx.Task(taskID)
	if err != nil {
		return err
	}
	if !task.Status.IsTerminal() {
		return model.Conflict(model.ErrCodeActionConflict, "task %d is %s", taskID, task.Status)
	}
	for _, job := range JobsOf(tx, taskID) {
		tx.Logs.DeleteWhere(func(l *model.LogStorage) bool { return l.JobID == job.ID })
		tx.Jobs.Delete(job.ID)
	}
	tx.Tasks.Delete(taskID)
	r.taskMu.Delete(taskID)
	return nil
}

// AppendLog stores a log of a job. A log with the same name and type is replaced.
func AppendLog(tx *stores.Tx, jobID int64, name string, typ model.LogType, format, body string) (*model.LogStorage, error) {
	if _, err := tx.Job(jobID); err != nil {
		return nil, err
	}
	switch typ {
	case model.LogStdout, model.LogStderr, model.LogCheck, model.LogCustom:
	default:
		return nil, model.InvalidInput(model.ErrCodeInvalidInput, "unknown log type %q", typ)
	}
	if format == "" {
		format = "txt"
	}
	if l, ok := tx.Logs.First(func(l *model.LogStorage) bool {
		return l.JobID == jobID && l.Name == name && l.Type == typ
	}); ok {
		l.Format = format
		l.Body = body
		tx.Logs.Put(l)
		return l, nil
	}
	l := &model.LogStorage{JobID: jobID, Name: name, Type: typ, Format: format, Body: body}
	tx.Logs.Insert(l)
	return l, nil
}

// Logs returns the logs of a job ordered by id.
func Logs(tx *stores.Tx, jobID int64) []*model.LogStorage {
	logs := tx.Logs.Find(func(l *model.LogStorage) bool { return l.JobID == jobID })
	sort.Slice(logs, func(i, j int) bool { return logs[i].ID < logs[j].ID })
	return logs
}

// Log returns one log of a job.
func Log(tx *stores.Tx, jobID, logID int64) (*model.LogStorage, error) {
	l, ok := tx.Logs.Get(logID)
	if !ok || l.JobID != jobID {
		return nil, model.NotFound(model.ErrCodeLogNotFound, "log %d of job %d not found", logID, jobID)
	}
	return l, nil
}

// StoreLog stores a job log reported by the runner.
func (r *Runtime) StoreLog(ctx context.Context, jobID int64, name string, typ model.LogType, format, body string) error {
	return r.graph.Update(ctx, func(tx *stores.Tx) error {
		_, err := AppendLog(tx, jobID, name, typ, format, body)
		return err
	})
}
