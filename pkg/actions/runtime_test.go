package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/openadcm/adcm/pkg/concerns"
	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	mu         sync.Mutex
	started    []TaskSpec
	terminated []int64
	err        error
}

func (f *fakeRunner) Start(_ context.Context, spec TaskSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, spec)
	return nil
}

func (f *fakeRunner) Terminate(_ context.Context, taskID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, taskID)
	return nil
}

type fixture struct {
	g       *stores.Graph
	rt      *Runtime
	runner  *fakeRunner
	mapping *mapping.Engine

	cluster, service, server, h1, h2 int64
	install, expand, generate        int64
	restart, locked                  int64
}

const generatorScript = `
jobs = [
    {"name": "prepare", "script": "prepare.yaml"},
    {"name": "deploy_" + task["object"]["name"], "script": "deploy.yaml", "state_on_fail": "broken"},
]
`

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{g: stores.NewGraph(zerolog.Nop(), nil), runner: &fakeRunner{}}
	cfg := configs.NewEngine(zerolog.Nop(), nil)
	f.mapping = mapping.NewEngine(zerolog.Nop(), cfg)
	cc := concerns.NewEngine(zerolog.Nop(), nil, cfg, f.mapping, nil)
	f.rt = NewRuntime(zerolog.Nop(), f.g, cfg, f.mapping, cc, Options{
		Runner: f.runner,
		Scripts: func(_ *definition.Bundle, path string) (string, error) {
			if path != "gen.star" {
				return "", errors.New("no such script")
			}
			return generatorScript, nil
		},
	})

	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		bundle := tx.Bundles.Insert(&definition.Bundle{Name: "b", Version: "1", Edition: "community"})
		cp := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeCluster, Name: "c"})
		sp := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeService, Name: "zk"})
		compP := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeComponent, Name: "server",
			ParentID: sp, Constraint: definition.DefaultConstraint()})
		pp := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeProvider, Name: "p"})
		hp := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeHost, Name: "h"})

		f.install = tx.Actions.Insert(&definition.Action{PrototypeID: cp, Name: "install", Type: definition.ActionJob,
			Script: "install.yaml", ScriptType: definition.ScriptAnsible,
			StateAvailable: definition.States(model.DefaultState), MultiStateAvailable: definition.AnyState(),
			StateOnSuccess: "installed", StateOnFail: "failed",
			MultiStateOnSuccess: definition.MultiStateEffect{Set: []string{"ready"}},
			AllowToTerminate:    true})
		f.expand = tx.Actions.Insert(&definition.Action{PrototypeID: cp, Name: "expand", Type: definition.ActionJob,
			Script: "expand.yaml", ScriptType: definition.ScriptAnsible,
			StateAvailable: definition.AnyState(), MultiStateAvailable: definition.AnyState(),
			HCACL: []definition.HCACLRule{{Service: "zk", Component: "server", Action: definition.HCACLAdd}}})
		f.generate = tx.Actions.Insert(&definition.Action{PrototypeID: cp, Name: "generate", Type: definition.ActionTask,
			Script: "gen.star", ScriptType: definition.ScriptTaskGenerator,
			StateAvailable: definition.AnyState(), MultiStateAvailable: definition.AnyState()})
		f.locked = tx.Actions.Insert(&definition.Action{PrototypeID: cp, Name: "maintain", Type: definition.ActionJob,
			Script: "m.yaml", StateAvailable: definition.AnyState(), MultiStateAvailable: definition.States("ready"),
			MultiStateUnavailable: definition.States("frozen")})
		f.restart = tx.Actions.Insert(&definition.Action{PrototypeID: compP, Name: "restart", Type: definition.ActionJob,
			Script: "restart.yaml", HostAction: true,
			StateAvailable: definition.AnyState(), MultiStateAvailable: definition.AnyState(),
			StateOnSuccess: "restarted"})

		f.cluster = tx.Clusters.Insert(&model.Cluster{Object: model.NewObject(cp), Name: "c1"})
		f.service = tx.Services.Insert(&model.Service{Object: model.NewObject(sp), ClusterID: f.cluster, Name: "zk", Title: "ZooKeeper"})
		f.server = tx.Components.Insert(&model.Component{Object: model.NewObject(compP), ClusterID: f.cluster,
			ServiceID: f.service, Name: "server", Title: "Server"})
		provider := tx.Providers.Insert(&model.Provider{Object: model.NewObject(pp), Name: "p1"})
		f.h1 = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hp), ProviderID: provider, ClusterID: f.cluster, FQDN: "h1"})
		f.h2 = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hp), ProviderID: provider, ClusterID: f.cluster, FQDN: "h2"})
		tx.HostComponents.Insert(&model.HostComponent{ClusterID: f.cluster, HostID: f.h1, ServiceID: f.service, ComponentID: f.server})
		return nil
	})
	if err != nil {
		t.Fatalf("failed to build fixture: %v", err)
	}
	return f
}

func (f *fixture) clusterRef() model.Ref { return model.NewRef(model.TypeCluster, f.cluster) }

func (f *fixture) run(t *testing.T, actionID int64, target model.Ref, payload Payload) (*model.TaskLog, error) {
	t.Helper()
	return f.rt.Run(context.Background(), Request{ActionID: actionID, Target: target, Payload: payload})
}

func (f *fixture) report(t *testing.T, cb Callback) {
	t.Helper()
	if err := f.rt.Report(context.Background(), cb); err != nil {
		t.Fatalf("Report(%+v) error = %v", cb, err)
	}
}

func (f *fixture) view(t *testing.T, fn func(tx *stores.Tx)) {
	t.Helper()
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		fn(tx)
		return nil
	})
}

func TestStateAllows(t *testing.T) {
	tests := []struct {
		name   string
		action definition.Action
		obj    model.Object
		want   bool
	}{
		{
			name:   "any state",
			action: definition.Action{StateAvailable: definition.AnyState(), MultiStateAvailable: definition.AnyState()},
			obj:    model.Object{State: "created"},
			want:   true,
		},
		{
			name:   "listed state",
			action: definition.Action{StateAvailable: definition.States("installed"), MultiStateAvailable: definition.AnyState()},
			obj:    model.Object{State: "created"},
			want:   false,
		},
		{
			name: "unavailable wins over any",
			action: definition.Action{StateAvailable: definition.AnyState(), MultiStateAvailable: definition.AnyState(),
				StateUnavailable: definition.States("created")},
			obj:  model.Object{State: "created"},
			want: false,
		},
		{
			name: "multi state unavailable",
			action: definition.Action{StateAvailable: definition.AnyState(), MultiStateAvailable: definition.AnyState(),
				MultiStateUnavailable: definition.States("frozen")},
			obj:  model.Object{State: "created", MultiState: []string{"ready", "frozen"}},
			want: false,
		},
		{
			name:   "multi state must intersect",
			action: definition.Action{StateAvailable: definition.AnyState(), MultiStateAvailable: definition.States("ready")},
			obj:    model.Object{State: "created"},
			want:   false,
		},
		{
			name:   "multi state intersects",
			action: definition.Action{StateAvailable: definition.AnyState(), MultiStateAvailable: definition.States("ready")},
			obj:    model.Object{State: "created", MultiState: []string{"ready"}},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateAllows(&tt.action, &tt.obj); got != tt.want {
				t.Errorf("StateAllows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_SuccessAppliesEffectsAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	task, err := f.run(t, f.install, f.clusterRef(), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if task.Status != model.JobStatusCreated || task.LockID == 0 {
		t.Fatalf("unexpected task %+v", task)
	}
	if len(f.runner.started) != 1 || len(f.runner.started[0].Jobs) != 1 {
		t.Fatalf("runner got %+v", f.runner.started)
	}
	if inv := f.runner.started[0].Inventory; len(inv) != 2 {
		t.Errorf("expected 2 inventory hosts, got %+v", inv)
	}

	f.view(t, func(tx *stores.Tx) {
		for _, ref := range []model.Ref{f.clusterRef(), model.NewRef(model.TypeService, f.service), model.NewRef(model.TypeHost, f.h1)} {
			ent, _ := tx.Entity(ref)
			if !ent.Base().HasConcern(task.LockID) {
				t.Errorf("%s is not locked", ref)
			}
		}
	})

	// a second launch on the locked cluster is refused
	if _, err := f.run(t, f.expand, f.clusterRef(), Payload{}); !model.IsKind(err, model.KindLockError) {
		t.Errorf("expected LockError, got %v", err)
	}

	jobID := f.runner.started[0].Jobs[0].ID
	f.report(t, Callback{TaskID: task.ID, JobID: jobID, Status: model.JobStatusRunning})
	f.report(t, Callback{TaskID: task.ID, JobID: jobID, Status: model.JobStatusSuccess})
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusSuccess})

	f.view(t, func(tx *stores.Tx) {
		got, _ := tx.Task(task.ID)
		if got.Status != model.JobStatusSuccess || got.LockID != 0 {
			t.Errorf("unexpected task %+v", got)
		}
		if tx.Concerns.Has(task.LockID) {
			t.Error("lock concern not removed")
		}
		c, _ := tx.Cluster(f.cluster)
		if c.State != "installed" || !c.HasMultiState("ready") {
			t.Errorf("unexpected cluster state %q %v", c.State, c.MultiState)
		}
		if len(c.Concerns) != 0 {
			t.Errorf("cluster still has concerns %v", c.Concerns)
		}
	})
}

func TestRun_RunnerErrorFailsTask(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("spool unavailable")
	task, err := f.run(t, f.install, f.clusterRef(), Payload{})
	if err == nil {
		t.Fatal("expected error")
	}
	if task == nil || task.Status != model.JobStatusFailed || task.LockID != 0 {
		t.Fatalf("unexpected task %+v", task)
	}
	f.view(t, func(tx *stores.Tx) {
		c, _ := tx.Cluster(f.cluster)
		if c.State != "failed" || len(c.Concerns) != 0 {
			t.Errorf("unexpected cluster %+v", c)
		}
	})
}

func TestReport_DropsAndImplicitRunning(t *testing.T) {
	f := newFixture(t)
	task, err := f.run(t, f.install, f.clusterRef(), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	f.report(t, Callback{TaskID: 999, Status: model.JobStatusRunning})
	f.report(t, Callback{TaskID: task.ID, JobID: 999, Status: model.JobStatusRunning})

	// failed straight from created passes through running
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusFailed})
	f.view(t, func(tx *stores.Tx) {
		got, _ := tx.Task(task.ID)
		if got.Status != model.JobStatusFailed || got.StartDate.IsZero() || got.FinishDate.Before(got.StartDate) {
			t.Errorf("unexpected task %+v", got)
		}
	})

	// late callbacks are ignored
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusSuccess})
	f.view(t, func(tx *stores.Tx) {
		got, _ := tx.Task(task.ID)
		if got.Status != model.JobStatusFailed {
			t.Errorf("terminal task changed to %s", got.Status)
		}
	})

	if err := f.rt.Report(context.Background(), Callback{TaskID: task.ID, Status: "paused"}); !model.IsKind(err, model.KindInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestRun_HCACLAppliesAndRestores(t *testing.T) {
	f := newFixture(t)
	payload := Payload{HostComponentMap: []mapping.Entry{
		{HostID: f.h1, ComponentID: f.server},
		{HostID: f.h2, ComponentID: f.server},
	}}
	task, err := f.run(t, f.expand, f.clusterRef(), payload)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	f.view(t, func(tx *stores.Tx) {
		if n := len(tx.Mapping(f.cluster)); n != 2 {
			t.Errorf("expected provisional mapping of 2 entries, got %d", n)
		}
	})

	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusFailed})
	f.view(t, func(tx *stores.Tx) {
		hc := tx.Mapping(f.cluster)
		if len(hc) != 1 || hc[0].HostID != f.h1 {
			t.Errorf("mapping not restored: %+v", hc)
		}
	})
}

func TestRun_HCACLRejects(t *testing.T) {
	tests := []struct {
		name string
		hc   func(f *fixture) []mapping.Entry
	}{
		{"removal not permitted", func(f *fixture) []mapping.Entry { return []mapping.Entry{} }},
		{"no change", func(f *fixture) []mapping.Entry { return []mapping.Entry{{HostID: f.h1, ComponentID: f.server}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.run(t, f.expand, f.clusterRef(), Payload{HostComponentMap: tt.hc(f)})
			if !model.HasCode(err, model.ErrCodeActionError) {
				t.Fatalf("expected ACTION_ERROR, got %v", err)
			}
			f.view(t, func(tx *stores.Tx) {
				if tx.Tasks.Count(func(*model.TaskLog) bool { return true }) != 0 {
					t.Error("task recorded for a rejected launch")
				}
			})
		})
	}

	f := newFixture(t)
	_, err := f.run(t, f.install, f.clusterRef(), Payload{HostComponentMap: []mapping.Entry{}})
	if !model.HasCode(err, model.ErrCodeActionError) {
		t.Errorf("expected ACTION_ERROR for an action without hc_acl, got %v", err)
	}
}

func TestRun_Availability(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, f.locked, f.clusterRef(), Payload{}); !model.HasCode(err, model.ErrCodeActionError) {
		t.Errorf("expected ACTION_ERROR without the ready flag, got %v", err)
	}
	if _, err := f.run(t, f.restart, f.clusterRef(), Payload{}); !model.HasCode(err, model.ErrCodeActionNotFound) {
		t.Errorf("expected ACTION_NOT_FOUND for a foreign action, got %v", err)
	}
	f.view(t, func(tx *stores.Tx) {
		list, err := f.rt.Available(tx, f.clusterRef())
		if err != nil {
			t.Fatalf("Available() error = %v", err)
		}
		var names []string
		for _, a := range list {
			names = append(names, a.Name)
		}
		if len(names) != 3 || names[0] != "install" || names[1] != "expand" || names[2] != "generate" {
			t.Errorf("unexpected available actions %v", names)
		}
	})
}

func TestRun_HostAction(t *testing.T) {
	f := newFixture(t)
	hostRef := model.NewRef(model.TypeHost, f.h1)
	f.view(t, func(tx *stores.Tx) {
		list, _ := f.rt.Available(tx, hostRef)
		if len(list) != 1 || list[0].Name != "restart" {
			t.Errorf("unexpected host actions %+v", list)
		}
		other, _ := f.rt.Available(tx, model.NewRef(model.TypeHost, f.h2))
		if len(other) != 0 {
			t.Errorf("unmapped host got actions %+v", other)
		}
	})

	task, err := f.run(t, f.restart, hostRef, Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if task.Object != model.NewRef(model.TypeComponent, f.server) || task.HostID != f.h1 {
		t.Fatalf("unexpected task target %+v", task)
	}
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusSuccess})
	f.view(t, func(tx *stores.Tx) {
		comp, _ := tx.Component(f.server)
		host, _ := tx.Host(f.h1)
		if comp.State != "restarted" || host.State != model.DefaultState {
			t.Errorf("effects went to the wrong object: component %q host %q", comp.State, host.State)
		}
	})
}

func TestRun_TaskGenerator(t *testing.T) {
	f := newFixture(t)
	task, err := f.run(t, f.generate, f.clusterRef(), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var jobs []*model.JobLog
	f.view(t, func(tx *stores.Tx) { jobs = JobsOf(tx, task.ID) })
	if len(jobs) != 2 || jobs[0].Name != "prepare" || jobs[1].Name != "deploy_c1" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	f.report(t, Callback{TaskID: task.ID, JobID: jobs[0].ID, Status: model.JobStatusSuccess})
	f.report(t, Callback{TaskID: task.ID, JobID: jobs[1].ID, Status: model.JobStatusFailed})
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusFailed})
	f.view(t, func(tx *stores.Tx) {
		c, _ := tx.Cluster(f.cluster)
		if c.State != "broken" {
			t.Errorf("expected the failed job's state, got %q", c.State)
		}
	})
}

func TestGenerator_Errors(t *testing.T) {
	g := NewGenerator(0)
	tests := []struct {
		name   string
		script string
	}{
		{"syntax", "jobs = ["},
		{"missing jobs", "x = 1"},
		{"empty", "jobs = []"},
		{"no script", `jobs = [{"name": "a"}]`},
		{"not a list", `jobs = "a"`},
		{"not a dict", "jobs = [1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Generate(context.Background(), tt.script, map[string]interface{}{})
			if !model.HasCode(err, model.ErrCodeTaskGenerator) {
				t.Errorf("expected TASK_GENERATOR_ERROR, got %v", err)
			}
		})
	}
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	task, err := f.run(t, f.install, f.clusterRef(), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := f.rt.Terminate(context.Background(), task.ID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if len(f.runner.terminated) != 1 {
		t.Fatalf("runner was not signaled")
	}
	// the lock stays until the runner reports
	f.view(t, func(tx *stores.Tx) {
		if !tx.Concerns.Has(task.LockID) {
			t.Error("lock released before the runner reported")
		}
	})
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusFailed})

	other, err := f.run(t, f.expand, f.clusterRef(), Payload{HostComponentMap: []mapping.Entry{
		{HostID: f.h1, ComponentID: f.server}, {HostID: f.h2, ComponentID: f.server},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := f.rt.Terminate(context.Background(), other.ID); !model.HasCode(err, model.ErrCodeActionConflict) {
		t.Errorf("expected ACTION_CONFLICT, got %v", err)
	}
}

func TestAbortOwn(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, f.install, f.clusterRef(), Payload{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		_, err := f.rt.AbortOwn(tx, model.NewRef(model.TypeService, f.service))
		return err
	})
	if !model.HasCode(err, model.ErrCodeLockError) {
		t.Fatalf("expected LOCK_ERROR for a cluster lock, got %v", err)
	}

	f2 := newFixture(t)
	task, err := f2.run(t, f2.restart, model.NewRef(model.TypeHost, f2.h1), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var ids []int64
	err = f2.g.Update(context.Background(), func(tx *stores.Tx) error {
		var err error
		ids, err = f2.rt.AbortOwn(tx, task.Object)
		return err
	})
	if err != nil || len(ids) != 1 || ids[0] != task.ID {
		t.Fatalf("AbortOwn() = %v, %v", ids, err)
	}
	f2.view(t, func(tx *stores.Tx) {
		got, _ := tx.Task(task.ID)
		if got.Status != model.JobStatusFailed || tx.Concerns.Has(task.LockID) {
			t.Errorf("task not aborted: %+v", got)
		}
	})
}

func TestPlugin(t *testing.T) {
	f := newFixture(t)
	task, err := f.run(t, f.install, f.clusterRef(), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	jobID := f.runner.started[0].Jobs[0].ID
	ctx := context.Background()
	service := model.NewRef(model.TypeService, f.service)

	if err := f.rt.SetState(ctx, jobID, model.Ref{}, "installing"); !model.HasCode(err, model.ErrCodeActionConflict) {
		t.Errorf("expected ACTION_CONFLICT before the job runs, got %v", err)
	}
	f.report(t, Callback{TaskID: task.ID, JobID: jobID, Status: model.JobStatusRunning})

	if err := f.rt.SetState(ctx, jobID, model.Ref{}, "installing"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if err := f.rt.SetMultiState(ctx, jobID, service, "tuned"); err != nil {
		t.Fatalf("SetMultiState() error = %v", err)
	}
	if err := f.rt.UnsetMultiState(ctx, jobID, service, "absent", true); err != nil {
		t.Errorf("missing_ok unset error = %v", err)
	}
	if err := f.rt.UnsetMultiState(ctx, jobID, service, "absent", false); !model.HasCode(err, model.ErrCodeStateUnsetError) {
		t.Errorf("expected MULTI_STATE_UNSET_ERROR, got %v", err)
	}
	if err := f.rt.UnsetMultiState(ctx, jobID, service, "tuned", false); err != nil {
		t.Errorf("UnsetMultiState() error = %v", err)
	}

	f.view(t, func(tx *stores.Tx) {
		c, _ := tx.Cluster(f.cluster)
		s, _ := tx.Service(f.service)
		if c.State != "installing" || len(s.MultiState) != 0 {
			t.Errorf("unexpected states: cluster %q service %v", c.State, s.MultiState)
		}
	})
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	task, err := f.run(t, f.install, f.clusterRef(), Payload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	jobID := f.runner.started[0].Jobs[0].ID
	err = f.g.Update(context.Background(), func(tx *stores.Tx) error {
		if _, err := AppendLog(tx, jobID, "ansible", model.LogStdout, "", "first"); err != nil {
			return err
		}
		if _, err := AppendLog(tx, jobID, "ansible", model.LogStdout, "", "second"); err != nil {
			return err
		}
		_, err := AppendLog(tx, jobID, "ansible", "trace", "", "x")
		if !model.IsKind(err, model.KindInvalidInput) {
			t.Errorf("expected InvalidInput for unknown type, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	f.view(t, func(tx *stores.Tx) {
		logs := Logs(tx, jobID)
		if len(logs) != 1 || logs[0].Body != "second" || logs[0].Format != "txt" {
			t.Errorf("unexpected logs %+v", logs)
		}
	})

	err = f.g.Update(context.Background(), func(tx *stores.Tx) error { return f.rt.DeleteTask(tx, task.ID) })
	if !model.HasCode(err, model.ErrCodeActionConflict) {
		t.Errorf("expected ACTION_CONFLICT deleting a running task, got %v", err)
	}
	f.report(t, Callback{TaskID: task.ID, Status: model.JobStatusSuccess})
	err = f.g.Update(context.Background(), func(tx *stores.Tx) error { return f.rt.DeleteTask(tx, task.ID) })
	if err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	f.view(t, func(tx *stores.Tx) {
		if tx.Jobs.Has(jobID) || len(Logs(tx, jobID)) != 0 {
			t.Error("jobs or logs survived task deletion")
		}
	})
}

func TestMetaAttr(t *testing.T) {
	attr := MetaAttr(map[string]interface{}{
		"/ssl":   map[string]interface{}{"isActive": true},
		"/other": map[string]interface{}{"isActive": false},
		"/junk":  "x",
	})
	if len(attr) != 2 {
		t.Fatalf("unexpected attr %v", attr)
	}
	if a, _ := attr["ssl"].(map[string]interface{}); a["active"] != true {
		t.Errorf("unexpected ssl attr %v", attr["ssl"])
	}
}
