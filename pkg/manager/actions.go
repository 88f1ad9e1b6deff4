package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

func actionTitle(a *definition.Action) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

// Actions lists the actions that can run on an object now.
func (m *Manager) Actions(ctx context.Context, ref model.Ref) ([]*definition.Action, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*definition.Action, error) { return m.runtime.Available(tx, ref) })
}

// RunAction launches an action on an object. The task is recorded and the
// object locked in one transaction; the runner gets it after commit.
func (m *Manager) RunAction(ctx context.Context, p model.Principal, req actions.Request) (*model.TaskLog, error) {
	var task *model.TaskLog
	req.UserID = p.UserID
	c := &command{
		name:      "action.run",
		principal: p,
		verb:      rbac.VerbRunAction,
		object:    req.Target,
		op:        auditEntry("Action launched", model.OperationUpdate, req.Target, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		action, err := tx.Action(req.ActionID)
		if err != nil {
			return err
		}
		c.op.Name = actionTitle(action) + " action launched"
		proto, err := tx.Prototype(action.PrototypeID)
		if err != nil {
			return err
		}
		if err := checkLicense(proto); err != nil {
			return err
		}
		task, err = m.runtime.Launch(ctx, tx, req)
		return err
	}
	c.after = append(c.after, func(ctx context.Context) {
		if err := m.runtime.Start(ctx, task.ID); err != nil {
			m.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to start task")
		}
	})
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return task, nil
}

// TerminateTask asks the runner to stop a running task.
func (m *Manager) TerminateTask(ctx context.Context, p model.Principal, taskID int64) error {
	task, err := read(ctx, m, func(tx *stores.Tx) (*model.TaskLog, error) { return tx.Task(taskID) })
	if err != nil {
		return err
	}
	c := &command{
		name:      "task.terminate",
		principal: p,
		verb:      rbac.VerbRunAction,
		object:    task.Object,
		op:        auditEntry("Task terminated", model.OperationUpdate, task.Object, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		action, err := tx.Action(task.ActionID)
		if err != nil {
			return err
		}
		c.op.Name = actionTitle(action) + " action terminated"
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return err
	}
	return m.runtime.Terminate(ctx, taskID)
}

// DeleteTask removes a finished task with its jobs and logs.
func (m *Manager) DeleteTask(ctx context.Context, p model.Principal, taskID int64) error {
	task, err := read(ctx, m, func(tx *stores.Tx) (*model.TaskLog, error) { return tx.Task(taskID) })
	if err != nil {
		return err
	}
	c := &command{
		name:      "task.delete",
		principal: p,
		verb:      rbac.VerbRunAction,
		object:    task.Object,
	}
	c.mutate = func(tx *stores.Tx) error { return m.runtime.DeleteTask(tx, taskID) }
	return m.exec(ctx, c)
}

// Tasks lists the tasks launched on an object, newest first.
func (m *Manager) Tasks(ctx context.Context, ref model.Ref) ([]*model.TaskLog, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.TaskLog, error) {
		if _, err := tx.Entity(ref); err != nil {
			return nil, err
		}
		return actions.Tasks(tx, ref), nil
	})
}

// Task returns a task.
func (m *Manager) Task(ctx context.Context, id int64) (*model.TaskLog, error) {
	return read(ctx, m, func(tx *stores.Tx) (*model.TaskLog, error) { return tx.Task(id) })
}

// Jobs returns the jobs of a task in execution order.
func (m *Manager) Jobs(ctx context.Context, taskID int64) ([]*model.JobLog, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.JobLog, error) {
		if _, err := tx.Task(taskID); err != nil {
			return nil, err
		}
		return actions.JobsOf(tx, taskID), nil
	})
}

// Logs lists the logs of a job.
func (m *Manager) Logs(ctx context.Context, jobID int64) ([]*model.LogStorage, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.LogStorage, error) {
		if _, err := tx.Job(jobID); err != nil {
			return nil, err
		}
		return actions.Logs(tx, jobID), nil
	})
}

// Log returns one log of a job.
func (m *Manager) Log(ctx context.Context, jobID, logID int64) (*model.LogStorage, error) {
	return read(ctx, m, func(tx *stores.Tx) (*model.LogStorage, error) { return actions.Log(tx, jobID, logID) })
}

// HostGroups lists the action host groups of a cluster, service or component.
func (m *Manager) HostGroups(ctx context.Context, owner model.Ref) ([]*model.ActionHostGroup, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.ActionHostGroup, error) {
		if _, err := tx.Entity(owner); err != nil {
			return nil, err
		}
		return actions.HostGroupsOf(tx, owner), nil
	})
}

// HostGroupCandidates returns the hosts that may join an action host group of owner.
func (m *Manager) HostGroupCandidates(ctx context.Context, owner model.Ref) ([]int64, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]int64, error) {
		if _, err := tx.Entity(owner); err != nil {
			return nil, err
		}
		return actions.HostGroupCandidates(tx, owner), nil
	})
}

// CreateHostGroup creates an action host group under a cluster, service or component.
func (m *Manager) CreateHostGroup(ctx context.Context, p model.Principal, owner model.Ref, name, desc string) (*model.ActionHostGroup, error) {
	var out *model.ActionHostGroup
	c := &command{
		name:      "host_group.create",
		principal: p,
		verb:      rbac.VerbChange,
		object:    owner,
		op:        auditEntry(name+" action host group created", model.OperationCreate, owner, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		if err := m.names.Object("action host group", name); err != nil {
			return err
		}
		var err error
		out, err = actions.CreateHostGroup(tx, owner, name, desc)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// hostGroupCommand builds a command on an action host group, authorized as a
// change of the group owner.
func (m *Manager) hostGroupCommand(ctx context.Context, p model.Principal, name string, groupID int64) (*command, *model.ActionHostGroup, error) {
	g, err := read(ctx, m, func(tx *stores.Tx) (*model.ActionHostGroup, error) { return tx.ActionHostGroup(groupID) })
	if err != nil {
		return nil, nil, err
	}
	return &command{
		name:      name,
		principal: p,
		verb:      rbac.VerbChange,
		object:    g.Owner,
	}, g, nil
}

// DeleteHostGroup deletes an idle action host group.
func (m *Manager) DeleteHostGroup(ctx context.Context, p model.Principal, groupID int64) error {
	c, g, err := m.hostGroupCommand(ctx, p, "host_group.delete", groupID)
	if err != nil {
		return err
	}
	c.op = auditEntry(g.Name+" action host group deleted", model.OperationDelete, g.Owner, "")
	c.mutate = func(tx *stores.Tx) error { return actions.DeleteHostGroup(tx, groupID) }
	return m.exec(ctx, c)
}

// AddHostGroupHost adds a candidate host to an action host group.
func (m *Manager) AddHostGroupHost(ctx context.Context, p model.Principal, groupID, hostID int64) error {
	c, g, err := m.hostGroupCommand(ctx, p, "host_group.host.add", groupID)
	if err != nil {
		return err
	}
	c.roots = []model.Ref{model.NewRef(model.TypeHost, hostID)}
	c.op = auditEntry("Host added to "+g.Name+" action host group", model.OperationUpdate, g.Owner, "")
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		c.op.Name = h.FQDN + " host added to " + g.Name + " action host group"
		return actions.AddHostToGroup(tx, groupID, hostID)
	}
	return m.exec(ctx, c)
}

// RemoveHostGroupHost removes a host from an action host group.
func (m *Manager) RemoveHostGroupHost(ctx context.Context, p model.Principal, groupID, hostID int64) error {
	c, g, err := m.hostGroupCommand(ctx, p, "host_group.host.remove", groupID)
	if err != nil {
		return err
	}
	c.roots = []model.Ref{model.NewRef(model.TypeHost, hostID)}
	c.op = auditEntry("Host removed from "+g.Name+" action host group", model.OperationUpdate, g.Owner, "")
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		c.op.Name = h.FQDN + " host removed from " + g.Name + " action host group"
		return actions.RemoveHostFromGroup(tx, groupID, hostID)
	}
	return m.exec(ctx, c)
}
