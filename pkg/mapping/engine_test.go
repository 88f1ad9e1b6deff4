package mapping

import (
	"context"
	"testing"

	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

type fixture struct {
	g      *stores.Graph
	eng    *Engine
	cfg    *configs.Engine
	bundle int64

	cluster        int64
	zk, kafka      int64
	zkServer       int64
	zkClient       int64
	kafkaBroker    int64
	h1, h2, h3, h4 int64
}

// newFixture builds a cluster with services zk (server [odd], client) and kafka
// (broker [+] requiring zk/server, bound to zk/client) on four hosts.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{g: stores.NewGraph(zerolog.Nop(), nil), cfg: configs.NewEngine(zerolog.Nop(), nil)}
	f.eng = NewEngine(zerolog.Nop(), f.cfg)
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		f.bundle = tx.Bundles.Insert(&definition.Bundle{Name: "b", Version: "1", Edition: "community"})
		cp := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeCluster, Name: "c"})
		zkp := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeService, Name: "zk"})
		kp := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeService, Name: "kafka",
			Requires: []definition.Require{{Service: "zk"}}})
		serverP := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeComponent, Name: "server", ParentID: zkp,
			Constraint: definition.Constraint{definition.ConstraintOdd}})
		clientP := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeComponent, Name: "client", ParentID: zkp,
			Constraint: definition.DefaultConstraint()})
		brokerP := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeComponent, Name: "broker", ParentID: kp,
			Constraint: definition.Constraint{definition.ConstraintPlus},
			Requires:   []definition.Require{{Service: "zk", Component: "server"}},
			BoundTo:    &definition.BoundTo{Service: "zk", Component: "client"}})
		pp := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeProvider, Name: "p"})
		hp := tx.Prototypes.Insert(&definition.Prototype{BundleID: f.bundle, Type: model.TypeHost, Name: "h"})

		f.cluster = tx.Clusters.Insert(&model.Cluster{Object: model.NewObject(cp), Name: "c1"})
		f.zk = tx.Services.Insert(&model.Service{Object: model.NewObject(zkp), ClusterID: f.cluster, Name: "zk", Title: "ZooKeeper"})
		f.kafka = tx.Services.Insert(&model.Service{Object: model.NewObject(kp), ClusterID: f.cluster, Name: "kafka", Title: "Kafka"})
		f.zkServer = tx.Components.Insert(&model.Component{Object: model.NewObject(serverP), ClusterID: f.cluster, ServiceID: f.zk, Name: "server", Title: "Server"})
		f.zkClient = tx.Components.Insert(&model.Component{Object: model.NewObject(clientP), ClusterID: f.cluster, ServiceID: f.zk, Name: "client", Title: "Client"})
		f.kafkaBroker = tx.Components.Insert(&model.Component{Object: model.NewObject(brokerP), ClusterID: f.cluster, ServiceID: f.kafka, Name: "broker", Title: "Broker"})
		provider := tx.Providers.Insert(&model.Provider{Object: model.NewObject(pp), Name: "p1"})
		for i, id := range []*int64{&f.h1, &f.h2, &f.h3} {
			*id = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hp), ProviderID: provider, ClusterID: f.cluster, FQDN: []string{"h1", "h2", "h3"}[i]})
		}
		f.h4 = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hp), ProviderID: provider, FQDN: "h4"})
		return nil
	})
	if err != nil {
		t.Fatalf("failed to build fixture: %v", err)
	}
	return f
}

func (f *fixture) set(req []Entry) (Diff, error) {
	var diff Diff
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		var err error
		diff, err = f.eng.Set(tx, f.cluster, req)
		return err
	})
	return diff, err
}

// valid is a mapping that satisfies every rule of the fixture.
func (f *fixture) valid() []Entry {
	return []Entry{
		{f.h1, f.zkServer},
		{f.h1, f.zkClient}, {f.h2, f.zkClient}, {f.h3, f.zkClient},
		{f.h1, f.kafkaBroker}, {f.h2, f.kafkaBroker}, {f.h3, f.kafkaBroker},
	}
}

func TestSet_Valid(t *testing.T) {
	f := newFixture(t)
	diff, err := f.set(f.valid())
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(diff.Added) != 7 || len(diff.Removed) != 0 {
		t.Errorf("unexpected diff %+v", diff)
	}
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		if n := len(f.eng.Mapping(tx, f.cluster)); n != 7 {
			t.Errorf("expected 7 entries, got %d", n)
		}
		if hosts := f.eng.HostsOf(tx, f.zkClient); len(hosts) != 3 {
			t.Errorf("expected 3 client hosts, got %d", len(hosts))
		}
		if comps := f.eng.ComponentsOf(tx, f.h1); len(comps) != 3 {
			t.Errorf("expected 3 components on h1, got %d", len(comps))
		}
		return nil
	})
}

func TestSet_ErrorPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		build    func(f *fixture) []Entry
		prepare  func(f *fixture, tx *stores.Tx)
		wantCode string
	}{
		{
			name: "duplicate wins over foreign host",
			build: func(f *fixture) []Entry {
				return append(f.valid(), Entry{f.h4, f.zkServer}, Entry{f.h1, f.zkServer})
			},
			wantCode: model.ErrCodeInvalidInput,
		},
		{
			name:     "foreign host",
			build:    func(f *fixture) []Entry { return append(f.valid(), Entry{f.h4, f.zkClient}) },
			wantCode: model.ErrCodeHostNotFound,
		},
		{
			name:     "unknown component",
			build:    func(f *fixture) []Entry { return append(f.valid(), Entry{f.h1, 999}) },
			wantCode: model.ErrCodeComponentNotFound,
		},
		{
			name:  "required service missing",
			build: func(f *fixture) []Entry { return []Entry{{f.h1, f.kafkaBroker}} },
			prepare: func(f *fixture, tx *stores.Tx) {
				tx.Components.DeleteWhere(func(c *model.Component) bool { return c.ServiceID == f.zk })
				tx.Services.Delete(f.zk)
			},
			wantCode: model.ErrCodeServiceConflict,
		},
		{
			name: "bound component not on same host",
			build: func(f *fixture) []Entry {
				return []Entry{{f.h1, f.zkServer}, {f.h1, f.zkClient}, {f.h1, f.kafkaBroker}, {f.h2, f.kafkaBroker}, {f.h3, f.kafkaBroker}}
			},
			wantCode: model.ErrCodeComponentConstraint,
		},
		{
			name: "even server count",
			build: func(f *fixture) []Entry {
				return append(f.valid(), Entry{f.h2, f.zkServer})
			},
			wantCode: model.ErrCodeComponentConstraint,
		},
		{
			name: "plus needs every host",
			build: func(f *fixture) []Entry {
				return []Entry{{f.h1, f.zkServer}, {f.h1, f.zkClient}, {f.h1, f.kafkaBroker}}
			},
			wantCode: model.ErrCodeComponentConstraint,
		},
		{
			name:  "host in maintenance mode",
			build: func(f *fixture) []Entry { return append(f.valid(), Entry{f.h4, f.zkClient}) },
			prepare: func(f *fixture, tx *stores.Tx) {
				h, _ := tx.Host(f.h4)
				h.ClusterID = f.cluster
				h.MaintenanceMode = model.MaintenanceModeOn
				tx.Hosts.Put(h)
			},
			wantCode: model.ErrCodeHostInMM,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				if err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
					tt.prepare(f, tx)
					return nil
				}); err != nil {
					t.Fatal(err)
				}
			}
			_, err := f.set(tt.build(f))
			if !model.HasCode(err, tt.wantCode) {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestSet_EmptyMappingSkipsRequiredServices(t *testing.T) {
	f := newFixture(t)
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		tx.Components.DeleteWhere(func(c *model.Component) bool { return c.ServiceID == f.zk })
		tx.Services.Delete(f.zk)
		broker, err := tx.Component(f.kafkaBroker)
		if err != nil {
			return err
		}
		proto, err := tx.Prototype(broker.PrototypeID)
		if err != nil {
			return err
		}
		proto.Constraint = definition.DefaultConstraint()
		tx.Prototypes.Put(proto)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.set(nil); err != nil {
		t.Fatalf("Set() of an empty mapping error = %v", err)
	}
	_, err = f.set([]Entry{{f.h1, f.kafkaBroker}})
	if !model.HasCode(err, model.ErrCodeServiceConflict) {
		t.Fatalf("expected SERVICE_CONFLICT for a non-empty mapping, got %v", err)
	}
	e, _ := model.AsError(err)
	if want := `No required service "zk" for service "Kafka"`; e.Message != want {
		t.Errorf("desc = %q, want %q", e.Message, want)
	}
}

func TestSet_ConstraintErrorCarriesLiteral(t *testing.T) {
	f := newFixture(t)
	_, err := f.set(append(f.valid(), Entry{f.h2, f.zkServer}))
	e, ok := model.AsError(err)
	if !ok {
		t.Fatalf("expected model error, got %v", err)
	}
	if e.Details["constraint"] != "[odd]" {
		t.Errorf("expected literal constraint, got %#v", e.Details)
	}
}

func TestSet_RevokesGroupMembership(t *testing.T) {
	f := newFixture(t)
	if _, err := f.set(f.valid()); err != nil {
		t.Fatal(err)
	}
	var clientGroup, clusterGroup *model.GroupConfig
	err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		for _, ref := range []model.Ref{model.NewRef(model.TypeComponent, f.zkClient), model.NewRef(model.TypeCluster, f.cluster)} {
			ent, _ := tx.Entity(ref)
			proto, _ := tx.Prototype(ent.Base().PrototypeID)
			proto.Config = []*definition.Field{{Name: "x", Type: definition.FieldString}}
			tx.Prototypes.Put(proto)
			if err := f.cfg.Init(tx, ent); err != nil {
				return err
			}
		}
		var err error
		if clientGroup, err = f.cfg.CreateGroup(tx, model.NewRef(model.TypeComponent, f.zkClient), "g", ""); err != nil {
			return err
		}
		if clusterGroup, err = f.cfg.CreateGroup(tx, model.NewRef(model.TypeCluster, f.cluster), "g", ""); err != nil {
			return err
		}
		if err := f.cfg.AddHost(tx, clientGroup.ID, f.h3); err != nil {
			return err
		}
		return f.cfg.AddHost(tx, clusterGroup.ID, f.h3)
	})
	if err != nil {
		t.Fatal(err)
	}

	next := []Entry{
		{f.h1, f.zkServer},
		{f.h1, f.zkClient}, {f.h2, f.zkClient},
		{f.h1, f.kafkaBroker}, {f.h2, f.kafkaBroker},
	}
	// [+] counts hosts outside maintenance mode only.
	if err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
		h, _ := tx.Host(f.h3)
		h.MaintenanceMode = model.MaintenanceModeOn
		tx.Hosts.Put(h)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	diff, err := f.set(next)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(diff.Removed) != 2 || len(diff.Added) != 0 {
		t.Errorf("unexpected diff %+v", diff)
	}

	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		g, _ := tx.GroupConfig(clientGroup.ID)
		if g.HasHost(f.h3) {
			t.Error("expected h3 to leave the component group")
		}
		g, _ = tx.GroupConfig(clusterGroup.ID)
		if !g.HasHost(f.h3) {
			t.Error("expected h3 to stay in the cluster group")
		}
		return nil
	})
}

func TestComponentRequires(t *testing.T) {
	f := newFixture(t)
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		req, err := f.eng.ComponentRequires(tx, f.kafkaBroker)
		if err != nil {
			t.Fatal(err)
		}
		if len(req) != 1 || len(req["zk"]) != 1 || req["zk"][0] != "server" {
			t.Errorf("unexpected requires %v", req)
		}
		return nil
	})
}

func TestCompute(t *testing.T) {
	a := model.HCEntry{HostID: 1, ServiceID: 1, ComponentID: 1}
	b := model.HCEntry{HostID: 2, ServiceID: 1, ComponentID: 1}
	c := model.HCEntry{HostID: 3, ServiceID: 1, ComponentID: 1}
	d := Compute([]model.HCEntry{a, b}, []model.HCEntry{b, c})
	if len(d.Added) != 1 || d.Added[0] != c || len(d.Removed) != 1 || d.Removed[0] != a {
		t.Errorf("unexpected diff %+v", d)
	}
	if !Compute([]model.HCEntry{a}, []model.HCEntry{a}).Empty() {
		t.Error("expected empty diff")
	}
}
