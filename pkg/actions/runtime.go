package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openadcm/adcm/pkg/concerns"
	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Options configures a Runtime. Every field is optional.
type Options struct {
	Runner           Runner
	Metrics          *telemetry.Metrics
	Events           *telemetry.EventPublisher
	Upgrader         Upgrader
	Scripts          ScriptSource
	GeneratorTimeout time.Duration
}

// Runtime launches tasks and applies runner reports.
type Runtime struct {
	logger    zerolog.Logger
	graph     *stores.Graph
	configs   *configs.Engine
	mapping   *mapping.Engine
	concerns  *concerns.Engine
	runner    Runner
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
	upgrader  Upgrader
	scripts   ScriptSource
	generator *Generator
	now       func() time.Time

	taskMu sync.Map
}

// NewRuntime creates an action runtime.
func NewRuntime(logger zerolog.Logger, graph *stores.Graph, cfg *configs.Engine, hc *mapping.Engine, cc *concerns.Engine, opts Options) *Runtime {
	if opts.Scripts == nil {
		opts.Scripts = BundleScripts
	}
	return &Runtime{
		logger:    logger.With().Str("component", "actions").Logger(),
		graph:     graph,
		configs:   cfg,
		mapping:   hc,
		concerns:  cc,
		runner:    opts.Runner,
		metrics:   opts.Metrics,
		events:    opts.Events,
		upgrader:  opts.Upgrader,
		scripts:   opts.Scripts,
		generator: NewGenerator(opts.GeneratorTimeout),
		now:       time.Now,
	}
}

// SetUpgrader installs the bundle switcher used by upgrade actions.
func (r *Runtime) SetUpgrader(u Upgrader) {
	r.upgrader = u
}

// BundleScripts reads a script relative to the directory of its bundle.
func BundleScripts(bundle *definition.Bundle, path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(bundle.Path, filepath.Clean("/"+path)))
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return string(data), nil
}

// check returns why an action may not run on ent, or nil.
func (r *Runtime) check(tx *stores.Tx, a *definition.Action, ent model.Entity) error {
	if c, blocked := r.concerns.Blocking(tx, ent.Ref()); blocked {
		return model.Errorf(model.KindLockError, model.ErrCodeLockError,
			"%s is locked: %s", ent.Ref(), c.Reason.Message)
	}
	if !a.AllowInMaintenanceMode && inMaintenance(ent) {
		return model.Errorf(model.KindMaintenanceModeConflict, model.ErrCodeMaintenanceMode,
			"%s is in maintenance mode", ent.Ref())
	}
	if !StateAllows(a, ent.Base()) {
		return model.Conflict(model.ErrCodeActionError,
			"action %q is not available in state %q", a.Name, ent.Base().State)
	}
	return nil
}

// resolveTarget returns the object an action launched from ref runs on, and the
// host for host actions.
func (r *Runtime) resolveTarget(tx *stores.Tx, a *definition.Action, ref model.Ref) (model.Entity, int64, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, 0, err
	}
	switch {
	case a.HostAction && ref.Type == model.TypeHost:
		host := ent.(*model.Host)
		if !a.AllowInMaintenanceMode && host.InMaintenance() {
			return nil, 0, model.Errorf(model.KindMaintenanceModeConflict, model.ErrCodeMaintenanceMode,
				"host %s is in maintenance mode", host.FQDN)
		}
		target, err := hostActionTarget(tx, a, host.ID)
		return target, host.ID, err
	case a.UpgradeName != "":
		if r.upgrader == nil {
			return nil, 0, model.Conflict(model.ErrCodeUpgradeError, "upgrades are not supported")
		}
		return ent, 0, nil
	case a.PrototypeID != ent.Base().PrototypeID:
		return nil, 0, model.NotFound(model.ErrCodeActionNotFound,
			"action %q is not declared for %s", a.Name, ref)
	}
	return ent, 0, nil
}

// Launch records a task for req and locks its target. The task is handed to the
// runner by Start once the transaction commits.
func (r *Runtime) Launch(ctx context.Context, tx *stores.Tx, req Request) (*model.TaskLog, error) {
	action, err := tx.Action(req.ActionID)
	if err != nil {
		return nil, err
	}
	target, hostID, err := r.resolveTarget(tx, action, req.Target)
	if err != nil {
		return nil, err
	}
	if err := r.check(tx, action, target); err != nil {
		return nil, err
	}
	if req.HostGroupID != 0 {
		if err := r.checkHostGroup(tx, action, target.Ref(), req.HostGroupID); err != nil {
			return nil, err
		}
	}

	task := &model.TaskLog{
		ActionID:          action.ID,
		Object:            target.Ref(),
		Status:            model.JobStatusCreated,
		StartDate:         r.now().UTC(),
		Verbose:           req.Payload.Verbose,
		UserID:            req.UserID,
		CorrelationID:     uuid.New().String(),
		HostID:            hostID,
		ActionHostGroupID: req.HostGroupID,
	}

	if req.Payload.HostComponentMap != nil {
		if err := r.applyHC(tx, action, target.Ref(), req.Payload.HostComponentMap, task); err != nil {
			return nil, err
		}
	}

	task.Attr = MetaAttr(req.Payload.Meta)
	cfg, err := r.configs.ActionConfig(tx, target.Ref(), action, req.Payload.Config, task.Attr)
	if err != nil {
		return nil, err
	}
	task.Config = cfg

	steps, err := r.steps(ctx, tx, action, target, task)
	if err != nil {
		return nil, err
	}

	tx.Tasks.Insert(task)
	lock, err := r.concerns.Lock(tx, target.Ref(), action, task.ID)
	if err != nil {
		return nil, err
	}
	task.LockID = lock.ID
	tx.Tasks.Put(task)

	for i, step := range steps {
		tx.Jobs.Insert(&model.JobLog{
			TaskID:      task.ID,
			Order:       i + 1,
			Name:        step.Name,
			DisplayName: step.DisplayName,
			Script:      step.Script,
			ScriptType:  step.ScriptType,
			Params:      model.CloneTree(step.Params),
			Status:      model.JobStatusCreated,
			StateOnFail: step.StateOnFail,
		})
	}

	r.logger.Info().
		Int64("task_id", task.ID).
		Str("action", action.Name).
		Str("object", task.Object.String()).
		Int("jobs", len(steps)).
		Msg("Task created")
	return task, nil
}

// steps returns the jobs of a launch, running the task generator when the action
// uses one.
func (r *Runtime) steps(ctx context.Context, tx *stores.Tx, a *definition.Action, target model.Entity, task *model.TaskLog) ([]definition.SubAction, error) {
	if a.ScriptType != definition.ScriptTaskGenerator {
		return a.Steps(), nil
	}
	proto, err := tx.Prototype(a.PrototypeID)
	if err != nil {
		return nil, err
	}
	bundle, err := tx.Bundle(proto.BundleID)
	if err != nil {
		return nil, err
	}
	script, err := r.scripts(bundle, a.Script)
	if err != nil {
		return nil, generatorError("%v", err)
	}
	return r.generator.Generate(ctx, script, generatorInput(tx, a, target, task))
}

func generatorInput(tx *stores.Tx, a *definition.Action, target model.Entity, task *model.TaskLog) map[string]interface{} {
	hc := make([]interface{}, 0, len(task.HostComponentMap))
	for _, e := range task.HostComponentMap {
		hc = append(hc, map[string]interface{}{
			"host_id": e.HostID, "service_id": e.ServiceID, "component_id": e.ComponentID,
		})
	}
	obj := map[string]interface{}{
		"type":        string(target.Ref().Type),
		"id":          target.Ref().ID,
		"name":        target.DisplayName(),
		"state":       target.Base().State,
		"multi_state": target.Base().MultiState,
	}
	var hosts []interface{}
	if clusterID := tx.ClusterOf(target.Ref()); clusterID != 0 {
		for _, h := range tx.ClusterHosts(clusterID) {
			hosts = append(hosts, h.FQDN)
		}
	}
	return map[string]interface{}{
		"action":           a.Name,
		"object":           obj,
		"config":           model.CloneTree(task.Config),
		"verbose":          task.Verbose,
		"hosts":            hosts,
		"hostcomponentmap": hc,
	}
}

// applyHC checks a requested mapping against the hc_acl rules of an action and the
// mapping rules, applies it and records both mappings in the task.
func (r *Runtime) applyHC(tx *stores.Tx, a *definition.Action, target model.Ref, req []mapping.Entry, task *model.TaskLog) error {
	if len(a.HCACL) == 0 {
		return model.Conflict(model.ErrCodeActionError,
			"action %q does not allow mapping changes", a.Name)
	}
	clusterID := tx.ClusterOf(target)
	if clusterID == 0 {
		return model.Conflict(model.ErrCodeActionError, "%s is not in a cluster", target)
	}
	entries, err := r.mapping.Resolve(tx, clusterID, req)
	if err != nil {
		return err
	}
	prev := r.mapping.Mapping(tx, clusterID)
	if err := CheckHCACL(tx, a.HCACL, mapping.Compute(prev, entries)); err != nil {
		return err
	}
	if err := r.mapping.Check(tx, clusterID, entries); err != nil {
		return err
	}
	r.mapping.Apply(tx, clusterID, entries)
	task.HostComponentMap = entries
	task.PrevHostComponentMap = prev
	return nil
}

// CheckHCACL verifies that every mapping change is permitted by a rule and that the
// request exercises at least one rule.
func CheckHCACL(tx *stores.Tx, rules []definition.HCACLRule, diff mapping.Diff) error {
	matched := false
	check := func(entry model.HCEntry, dir definition.HCACLAction) error {
		svc, err := tx.Service(entry.ServiceID)
		if err != nil {
			return err
		}
		comp, err := tx.Component(entry.ComponentID)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if rule.Action == dir && rule.Service == svc.Name && rule.Component == comp.Name {
				matched = true
				return nil
			}
		}
		return model.Conflict(model.ErrCodeActionError,
			"no permission to %s component %q of service %q", dir, comp.Name, svc.Name)
	}
	for _, e := range diff.Added {
		if err := check(e, definition.HCACLAdd); err != nil {
			return err
		}
	}
	for _, e := range diff.Removed {
		if err := check(e, definition.HCACLRemove); err != nil {
			return err
		}
	}
	if !matched {
		return model.Conflict(model.ErrCodeActionError, "mapping changes do not match any hc_acl rule")
	}
	return nil
}

// MetaAttr converts launch metadata to config attributes: {"/ssl": {"isActive": true}}
// becomes {"ssl": {"active": true}}.
func MetaAttr(meta map[string]interface{}) model.Tree {
	attr := model.Tree{}
	for path, v := range meta {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		active, ok := m["isActive"].(bool)
		if !ok {
			continue
		}
		name := filepath.Base(filepath.Clean("/" + path))
		if name == "/" || name == "." {
			continue
		}
		attr[name] = map[string]interface{}{"active": active}
	}
	return attr
}

// Start hands a created task to the runner. When the runner cannot take it the task
// fails at once and its lock is released.
func (r *Runtime) Start(ctx context.Context, taskID int64) error {
	var spec TaskSpec
	err := r.graph.View(ctx, func(tx *stores.Tx) error {
		var err error
		spec, err = r.spec(tx, taskID)
		return err
	})
	if err != nil {
		return err
	}

	if r.runner == nil {
		err = fmt.Errorf("no runner configured")
	} else {
		err = r.runner.Start(ctx, spec)
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("task_id", taskID).Msg("Runner rejected task")
		if ferr := r.abort(ctx, taskID); ferr != nil {
			return fmt.Errorf("failed to fail task %d: %w", taskID, ferr)
		}
		return fmt.Errorf("failed to start task %d: %w", taskID, err)
	}

	r.metrics.RecordTaskStarted(string(spec.Task.Object.Type))
	_ = r.events.PublishTaskStarted(taskID, spec.Task.CorrelationID, spec.Action.Name, spec.Task.Object.String())
	return nil
}

// abort fails a task that never reached the runner.
func (r *Runtime) abort(ctx context.Context, taskID int64) error {
	mu := r.taskLock(taskID)
	mu.Lock()
	defer mu.Unlock()
	return r.graph.Update(ctx, func(tx *stores.Tx) error {
		task, err := tx.Task(taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return nil
		}
		return r.finish(tx, task, model.JobStatusFailed)
	})
}

// Run launches a task and starts it.
func (r *Runtime) Run(ctx context.Context, req Request) (*model.TaskLog, error) {
	var task *model.TaskLog
	err := r.graph.Update(ctx, func(tx *stores.Tx) error {
		var err error
		task, err = r.Launch(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := r.Start(ctx, task.ID); err != nil {
		return r.reload(ctx, task.ID, err)
	}
	return r.reload(ctx, task.ID, nil)
}

func (r *Runtime) reload(ctx context.Context, taskID int64, cause error) (*model.TaskLog, error) {
	var task *model.TaskLog
	if err := r.graph.View(ctx, func(tx *stores.Tx) error {
		var err error
		task, err = tx.Task(taskID)
		return err
	}); err != nil {
		return nil, err
	}
	return task, cause
}

// spec assembles what the runner needs for a task.
func (r *Runtime) spec(tx *stores.Tx, taskID int64) (TaskSpec, error) {
	task, err := tx.Task(taskID)
	if err != nil {
		return TaskSpec{}, err
	}
	action, err := tx.Action(task.ActionID)
	if err != nil {
		return TaskSpec{}, err
	}
	proto, err := tx.Prototype(action.PrototypeID)
	if err != nil {
		return TaskSpec{}, err
	}
	bundle, err := tx.Bundle(proto.BundleID)
	if err != nil {
		return TaskSpec{}, err
	}
	return TaskSpec{
		Task:      task,
		Jobs:      JobsOf(tx, taskID),
		Action:    action,
		Bundle:    bundle,
		Inventory: r.inventory(tx, task),
	}, nil
}

// inventory lists the hosts a task may touch with the components mapped to them.
func (r *Runtime) inventory(tx *stores.Tx, task *model.TaskLog) []InventoryHost {
	var hosts []*model.Host
	switch {
	case task.ActionHostGroupID != 0:
		if g, ok := tx.ActionHostGroups.Get(task.ActionHostGroupID); ok {
			for _, id := range g.HostIDs {
				if h, ok := tx.Hosts.Get(id); ok {
					hosts = append(hosts, h)
				}
			}
		}
	case task.Object.Type == model.TypeHost:
		if h, ok := tx.Hosts.Get(task.Object.ID); ok {
			hosts = append(hosts, h)
		}
	case task.Object.Type == model.TypeProvider:
		hosts = tx.ProviderHosts(task.Object.ID)
	default:
		if clusterID := tx.ClusterOf(task.Object); clusterID != 0 {
			hosts = tx.ClusterHosts(clusterID)
		}
	}

	out := make([]InventoryHost, 0, len(hosts))
	for _, h := range hosts {
		ih := InventoryHost{ID: h.ID, FQDN: h.FQDN, Components: []string{}}
		for _, hc := range tx.MappingOfHost(h.ID) {
			svc, err1 := tx.Service(hc.ServiceID)
			comp, err2 := tx.Component(hc.ComponentID)
			if err1 == nil && err2 == nil {
				ih.Components = append(ih.Components, svc.Name+"."+comp.Name)
			}
		}
		out = append(out, ih)
	}
	return out
}

func (r *Runtime) taskLock(taskID int64) *sync.Mutex {
	mu, _ := r.taskMu.LoadOrStore(taskID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
