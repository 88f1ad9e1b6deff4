package configs

import (
	"context"
	"testing"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

func boolPtr(b bool) *bool { return &b }

func clusterSchema() []*definition.Field {
	return []*definition.Field{
		{Name: "port", Type: definition.FieldInteger, Required: true, Default: 8080},
		{Name: "name", Type: definition.FieldString, Default: "node", GroupCustomization: boolPtr(false)},
		{Name: "tls", Type: definition.FieldGroup, Limits: definition.Limits{Activatable: true}, Subs: []*definition.Field{
			{Name: "cert", Type: definition.FieldString},
		}},
	}
}

type fixture struct {
	g   *stores.Graph
	eng *Engine

	clusterProto           int64
	cluster, service, comp int64
	provider               int64
	host1, host2, host3    int64
}

// newFixture builds a cluster with config, one service with one component mapped on
// host1, host2 also in the cluster, and host3 outside of it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		g:   stores.NewGraph(zerolog.Nop(), nil),
		eng: NewEngine(zerolog.Nop(), nil),
	}
	f.update(t, func(tx *stores.Tx) error {
		bundle := tx.Bundles.Insert(&definition.Bundle{Name: "b", Version: "1.0", Edition: "community"})
		f.clusterProto = tx.Prototypes.Insert(&definition.Prototype{
			BundleID: bundle, Type: model.TypeCluster, Name: "c", Version: "1.0",
			ConfigGroupCustomization: true, Config: clusterSchema(),
		})
		svcProto := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeService, Name: "zk", Version: "1.0",
			Config: []*definition.Field{{Name: "heap", Type: definition.FieldInteger, Default: 512}}})
		tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeService, Name: "kafka", Version: "1.0"})
		compProto := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeComponent, Name: "server", Version: "1.0", ParentID: svcProto,
			Config: []*definition.Field{{Name: "id", Type: definition.FieldInteger, Default: 1}}})
		provProto := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeProvider, Name: "p", Version: "1.0",
			Config: []*definition.Field{{Name: "token", Type: definition.FieldString, Default: "t"}}})
		hostProto := tx.Prototypes.Insert(&definition.Prototype{BundleID: bundle, Type: model.TypeHost, Name: "h", Version: "1.0"})

		cluster := &model.Cluster{Object: model.NewObject(f.clusterProto), Name: "c1"}
		f.cluster = tx.Clusters.Insert(cluster)
		service := &model.Service{Object: model.NewObject(svcProto), ClusterID: f.cluster, Name: "zk"}
		f.service = tx.Services.Insert(service)
		comp := &model.Component{Object: model.NewObject(compProto), ClusterID: f.cluster, ServiceID: f.service, Name: "server"}
		f.comp = tx.Components.Insert(comp)
		provider := &model.Provider{Object: model.NewObject(provProto), Name: "p1"}
		f.provider = tx.Providers.Insert(provider)
		for _, e := range []model.Entity{cluster, service, comp, provider} {
			if err := f.eng.Init(tx, e); err != nil {
				return err
			}
		}
		f.host1 = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hostProto), ProviderID: f.provider, ClusterID: f.cluster, FQDN: "h1"})
		f.host2 = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hostProto), ProviderID: f.provider, ClusterID: f.cluster, FQDN: "h2"})
		f.host3 = tx.Hosts.Insert(&model.Host{Object: model.NewObject(hostProto), ProviderID: f.provider, FQDN: "h3"})
		tx.HostComponents.Insert(&model.HostComponent{ClusterID: f.cluster, HostID: f.host1, ServiceID: f.service, ComponentID: f.comp})
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

func (f *fixture) clusterRef() model.Ref {
	return model.NewRef(model.TypeCluster, f.cluster)
}
