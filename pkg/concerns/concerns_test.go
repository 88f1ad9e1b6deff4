package concerns

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

type fixture struct {
	g   *stores.Graph
	cfg *configs.Engine
	eng *Engine

	bundle, clusterProto, zkProto, serverProto, hostProto int64
	cluster, provider, host                             int64
}

// newFixture builds a bundle with a required service zk whose server component needs
// exactly one host, a cluster with a required config leaf, and a provider with one
// host in the cluster. The concern hook is installed.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{g: stores.NewGraph(zerolog.Nop(), nil), cfg: configs.NewEngine(zerolog.Nop(), nil)}
	f.eng = NewEngine(zerolog.Nop(), nil, f.cfg, mapping.NewEngine(zerolog.Nop(), f.cfg), nil)
	f.g.OnCommit(f.eng.Hook())
	f.update(t, func(tx *stores.Tx) error {
		f.bundle = tx.Bundles.Insert(&definition.Bundle{Name: "b", Version: "1", Edition: "community"})
		f.clusterProto = tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeCluster, Name: "c",
			Config: []*definition.Field{{Name: "token", Type: definition.FieldString, Required: true}}})
		f.zkProto = tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeService, Name: "zk", DisplayName: "ZooKeeper", Required: true})
		f.serverProto = tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeComponent, Name: "server", ParentID: f.zkProto,
			Constraint: definition.Constraint{"1"}})
		pp := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeProvider, Name: "p"})
		f.hostProto = tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeHost, Name: "h"})

		cluster := &model.Cluster{Object: model.NewObject(f.clusterProto), Name: "c1"}
		f.cluster = tx.Clusters.Insert(cluster)
		if err := f.cfg.Init(tx, cluster); err != nil {
			return err
		}
		f.provider = tx.Providers.Insert(&model.Provider{Object: model.NewObject(pp), Name: "p1"})
		f.host = tx.Hosts.Insert(&model.Host{Object: model.NewObject(f.hostProto), ProviderID: f.provider, ClusterID: f.cluster, FQDN: "h1"})
		return nil
	})
	return f
}

func (f *fixture) update(t *testing.T, fn func(tx *stores.Tx) error) {
	t.Helper()
	if err := f.g.Update(context.Background(), fn); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func (f *fixture) issues(t *testing.T, ref model.Ref) map[model.ConcernCause]*model.ConcernItem {
	t.Helper()
	out := make(map[model.ConcernCause]*model.ConcernItem)
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		items, err := f.eng.Of(tx, ref)
		if err != nil {
			t.Fatalf("Of(%s) error = %v", ref, err)
		}
		for _, c := range items {
			if c.Type == model.ConcernIssue {
				out[c.Cause] = c
			}
		}
		return nil
	})
	return out
}

func (f *fixture) addService(t *testing.T) (service, server int64) {
	t.Helper()
	f.update(t, func(tx *stores.Tx) error {
		service = tx.Services.Insert(&model.Service{Object: model.NewObject(f.zkProto), ClusterID: f.cluster, Name: "zk", Title: "ZooKeeper"})
		server = tx.Components.Insert(&model.Component{Object: model.NewObject(f.serverProto), ClusterID: f.cluster, ServiceID: service, Name: "server"})
		return nil
	})
	return service, server
}

func TestHook_AutomaticIssues(t *testing.T) {
	f := newFixture(t)
	cluster := model.NewRef(model.TypeCluster, f.cluster)

	got := f.issues(t, cluster)
	if got[model.CauseConfig] == nil || got[model.CauseRequiredService] == nil {
		t.Fatalf("expected config and required service issues, got %v", got)
	}
	if name := got[model.CauseConfig].Name; name != "config issue on cluster 1" {
		t.Errorf("unexpected issue name %q", name)
	}
	if target := got[model.CauseRequiredService].Reason.Placeholder["target"]; target.Name != "ZooKeeper" {
		t.Errorf("expected required service placeholder, got %+v", target)
	}

	f.update(t, func(tx *stores.Tx) error {
		_, err := f.cfg.Update(tx, cluster, model.Tree{"token": "x"}, nil, "")
		return err
	})
	if got := f.issues(t, cluster); got[model.CauseConfig] != nil {
		t.Error("expected config issue to be resolved")
	}

	service, server := f.addService(t)
	got = f.issues(t, cluster)
	if got[model.CauseRequiredService] != nil {
		t.Error("expected required service issue to be resolved")
	}
	if got[model.CauseHostComponent] == nil {
		t.Fatal("expected host-component issue while server is unmapped")
	}

	f.update(t, func(tx *stores.Tx) error {
		tx.HostComponents.Insert(&model.HostComponent{ClusterID: f.cluster, HostID: f.host, ServiceID: service, ComponentID: server})
		return nil
	})
	if got := f.issues(t, cluster); len(got) != 0 {
		t.Errorf("expected no issues, got %v", got)
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	f := newFixture(t)
	var before, after int
	f.update(t, func(tx *stores.Tx) error {
		before = tx.Concerns.Count(nil)
		for i := 0; i < 3; i++ {
			if err := f.eng.RecomputeRoot(tx, model.NewRef(model.TypeCluster, f.cluster)); err != nil {
				return err
			}
		}
		after = tx.Concerns.Count(nil)
		return nil
	})
	if before != after {
		t.Errorf("expected %d concerns after recompute, got %d", before, after)
	}
}

func TestIssueClosure(t *testing.T) {
	f := newFixture(t)
	service, server := f.addService(t)
	f.update(t, func(tx *stores.Tx) error {
		tx.HostComponents.Insert(&model.HostComponent{ClusterID: f.cluster, HostID: f.host, ServiceID: service, ComponentID: server})
		return nil
	})

	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		host := model.NewRef(model.TypeHost, f.host)
		closure := IssueClosure(tx, host)
		for _, want := range []model.Ref{
			host,
			model.NewRef(model.TypeProvider, f.provider),
			model.NewRef(model.TypeCluster, f.cluster),
			model.NewRef(model.TypeService, service),
			model.NewRef(model.TypeComponent, server),
		} {
			if !slices.Contains(closure, want) {
				t.Errorf("host issue closure %v misses %s", closure, want)
			}
		}

		provider := IssueClosure(tx, model.NewRef(model.TypeProvider, f.provider))
		if len(provider) != 1 {
			t.Errorf("provider issues must stay on the provider, got %v", provider)
		}

		lock := LockClosure(tx, model.NewRef(model.TypeComponent, server))
		if !slices.Contains(lock, host) {
			t.Errorf("component lock closure %v misses mapped host", lock)
		}
		lock = LockClosure(tx, model.NewRef(model.TypeCluster, f.cluster))
		if len(lock) != 4 {
			t.Errorf("cluster lock closure should hold every object, got %v", lock)
		}
		return nil
	})
}

func TestLockAndFlags(t *testing.T) {
	f := newFixture(t)
	cluster := model.NewRef(model.TypeCluster, f.cluster)
	host := model.NewRef(model.TypeHost, f.host)
	var lock *model.ConcernItem
	f.update(t, func(tx *stores.Tx) error {
		var err error
		lock, err = f.eng.Lock(tx, cluster, &definition.Action{ID: 7, Name: "install"}, 1)
		if err != nil {
			return err
		}
		if _, ok := f.eng.Blocking(tx, host); !ok {
			t.Error("expected host to be locked by a cluster action")
		}
		if got := lock.Reason.Placeholder["action"].IDs["action"]; got != 7 {
			t.Errorf("expected action id in placeholder, got %d", got)
		}

		a, err := f.eng.RaiseFlag(tx, host, "outdated config")
		if err != nil {
			return err
		}
		b, _ := f.eng.RaiseFlag(tx, host, "outdated config")
		if a.ID != b.ID {
			t.Error("raising a flag twice must not duplicate it")
		}
		if len(a.Related) != 1 || a.IsBlocking() {
			t.Errorf("flags must stay on their owner and never block, got %+v", a)
		}
		if n := f.eng.ClearFlags(tx, host); n != 1 {
			t.Errorf("expected 1 flag cleared, got %d", n)
		}

		f.eng.Delete(tx, lock.ID)
		h, _ := tx.Host(f.host)
		if h.HasConcern(lock.ID) {
			t.Error("expected lock detached from host")
		}
		return nil
	})
}

type fakeTemplateSource struct {
	items []stores.MessageTemplate
	err   error
}

func (s fakeTemplateSource) MessageTemplates(context.Context) ([]stores.MessageTemplate, error) {
	return s.items, s.err
}

func TestTemplates(t *testing.T) {
	tpl := DefaultTemplates()
	if err := tpl.Load(context.Background(), fakeTemplateSource{items: []stores.MessageTemplate{
		{Name: TemplateConfigIssue, Message: "bad config on ${source}", Placeholders: []string{"source"}},
	}}); err != nil {
		t.Fatal(err)
	}
	reason, err := tpl.Render(TemplateConfigIssue, map[string]model.Placeholder{"source": {Type: "cluster", Name: "c1"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := Text(reason); got != "bad config on c1" {
		t.Errorf("Text() = %q", got)
	}

	if _, err := tpl.Render(TemplateLockedByAction, map[string]model.Placeholder{}); !model.HasCode(err, model.ErrCodeTemplate) {
		t.Errorf("expected templating error, got %v", err)
	}
	if _, err := tpl.Render("Nope", nil); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if err := tpl.Load(context.Background(), fakeTemplateSource{err: errors.New("db down")}); err == nil {
		t.Error("expected load error")
	}
}
