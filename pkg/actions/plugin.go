package actions

import (
	"context"
	"strings"

	"github.com/openadcm/adcm/pkg/concerns"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// PluginDescription is the config history description of updates made by jobs.
const PluginDescription = "updated by job"

// pluginTarget resolves the object a running job addresses. A zero ref means the
// task object; any other ref must be in the locked hierarchy of the task.
func pluginTarget(tx *stores.Tx, jobID int64, ref model.Ref) (model.Entity, error) {
	job, err := tx.Job(jobID)
	if err != nil {
		return nil, err
	}
	task, err := tx.Task(job.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() || job.Status != model.JobStatusRunning {
		return nil, model.Conflict(model.ErrCodeActionConflict, "job %d is not running", jobID)
	}
	if ref.IsZero() {
		ref = task.Object
	}
	if ref != task.Object {
		inScope := false
		for _, r := range concerns.LockClosure(tx, task.Object) {
			if r == ref {
				inScope = true
				break
			}
		}
		if !inScope {
			return nil, model.Conflict(model.ErrCodeActionError,
				"%s is outside the hierarchy of task %d", ref, task.ID)
		}
	}
	return tx.Entity(ref)
}

func (r *Runtime) plugin(ctx context.Context, jobID int64, ref model.Ref, fn func(tx *stores.Tx, ent model.Entity) error) error {
	return r.graph.Update(ctx, func(tx *stores.Tx) error {
		ent, err := pluginTarget(tx, jobID, ref)
		if err != nil {
			return err
		}
		return fn(tx, ent)
	})
}

// SetState sets the state of an object from a running job.
func (r *Runtime) SetState(ctx context.Context, jobID int64, ref model.Ref, state string) error {
	if state == "" {
		return model.InvalidInput(model.ErrCodeInvalidInput, "state is required")
	}
	return r.plugin(ctx, jobID, ref, func(tx *stores.Tx, ent model.Entity) error {
		ent.Base().State = state
		tx.PutEntity(ent)
		return nil
	})
}

// SetMultiState sets a multi-state flag from a running job.
func (r *Runtime) SetMultiState(ctx context.Context, jobID int64, ref model.Ref, flag string) error {
	if flag == "" {
		return model.InvalidInput(model.ErrCodeInvalidInput, "multi state is required")
	}
	return r.plugin(ctx, jobID, ref, func(tx *stores.Tx, ent model.Entity) error {
		ent.Base().SetMultiState(flag)
		tx.PutEntity(ent)
		return nil
	})
}

// UnsetMultiState removes a multi-state flag from a running job. An absent flag is
// an error unless missingOK is set.
func (r *Runtime) UnsetMultiState(ctx context.Context, jobID int64, ref model.Ref, flag string, missingOK bool) error {
	return r.plugin(ctx, jobID, ref, func(tx *stores.Tx, ent model.Entity) error {
		if !ent.Base().UnsetMultiState(flag) {
			if missingOK {
				return nil
			}
			return model.Conflict(model.ErrCodeStateUnsetError,
				"no multi state %q on %s", flag, ent.Ref())
		}
		tx.PutEntity(ent)
		return nil
	})
}

// UpdateConfig sets one config leaf, addressed as "name" or "group/name", from a
// running job.
func (r *Runtime) UpdateConfig(ctx context.Context, jobID int64, ref model.Ref, key string, value interface{}) (*model.ConfigLog, error) {
	var out *model.ConfigLog
	err := r.plugin(ctx, jobID, ref, func(tx *stores.Tx, ent model.Entity) error {
		current, err := r.configs.Current(tx, ent.Ref())
		if err != nil {
			return err
		}
		cfg := model.CloneTree(current.Config)
		if err := setKey(cfg, key, value); err != nil {
			return err
		}
		out, err = r.configs.Update(tx, ent.Ref(), cfg, nil, PluginDescription)
		return err
	})
	return out, err
}

func setKey(cfg model.Tree, key string, value interface{}) error {
	group, name, nested := strings.Cut(key, "/")
	if group == "" || (nested && name == "") {
		return model.InvalidConfig("invalid config key %q", key)
	}
	if !nested {
		cfg[group] = value
		return nil
	}
	g, ok := cfg[group].(map[string]interface{})
	if !ok {
		return model.InvalidConfig("config key %q is not a group", group)
	}
	g[name] = value
	return nil
}
