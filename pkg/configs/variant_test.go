package configs

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

func pred(name string, args interface{}) map[string]interface{} {
	node := map[string]interface{}{"predicate": name}
	if args != nil {
		node["args"] = args
	}
	return node
}

func svcArgs(service, component string) map[string]interface{} {
	args := map[string]interface{}{"service": service}
	if component != "" {
		args["component"] = component
	}
	return args
}

func strs(vals []interface{}) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// The fixture cluster holds h1 (mapped to zk.server) and h2 (unmapped); h3 has
// no cluster.
func TestGraphResolver_HostPredicates(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		node map[string]interface{}
		want []string
	}{
		{"in_cluster", pred("in_cluster", nil), []string{"h1", "h2"}},
		{"in_hc", pred("in_hc", nil), []string{"h1"}},
		{"not_in_hc", pred("not_in_hc", nil), []string{"h2"}},
		{"in_service", pred("in_service", svcArgs("zk", "")), []string{"h1"}},
		{"in_service not added", pred("in_service", svcArgs("kafka", "")), nil},
		{"not_in_service", pred("not_in_service", svcArgs("zk", "")), []string{"h2"}},
		{"not_in_service not added", pred("not_in_service", svcArgs("kafka", "")), []string{"h1", "h2"}},
		{"in_component", pred("in_component", svcArgs("zk", "server")), []string{"h1"}},
		{"in_component unknown", pred("in_component", svcArgs("zk", "client")), nil},
		{"not_in_component", pred("not_in_component", svcArgs("zk", "server")), []string{"h2"}},
		{"and", pred("and", []interface{}{pred("in_cluster", nil), pred("not_in_hc", nil)}), []string{"h2"}},
		{"and empty", pred("and", []interface{}{pred("in_hc", nil), pred("not_in_hc", nil)}), nil},
		{"or", pred("or", []interface{}{pred("in_hc", nil), pred("not_in_service", svcArgs("zk", ""))}), []string{"h1", "h2"}},
		{"or empty", pred("or", []interface{}{pred("in_service", svcArgs("kafka", "")), pred("in_component", svcArgs("zk", "client"))}), nil},
		{"nested", pred("or", []interface{}{
			pred("and", []interface{}{pred("in_cluster", nil), pred("in_hc", nil)}),
			pred("in_component", svcArgs("kafka", "broker")),
		}), []string{"h1"}},
		{"and of or", pred("and", []interface{}{
			pred("or", []interface{}{pred("in_hc", nil), pred("not_in_hc", nil)}),
			pred("not_in_component", svcArgs("zk", "server")),
		}), []string{"h2"}},
	}
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		r := NewGraphResolver(tx, f.clusterRef())
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := r.ResolveBuiltin(BuiltinHost, tt.node)
				if err != nil {
					t.Fatalf("ResolveBuiltin() error = %v", err)
				}
				if !slices.Equal(strs(got), tt.want) {
					t.Errorf("ResolveBuiltin() = %v, want %v", got, tt.want)
				}
			})
		}
		return nil
	})
}

func TestGraphResolver_PredicateErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		node map[string]interface{}
	}{
		{"and without args", pred("and", nil)},
		{"or with empty list", pred("or", []interface{}{})},
		{"argument not a predicate", pred("and", []interface{}{"in_hc"})},
		{"unknown", pred("in_rack", nil)},
		{"unknown nested", pred("or", []interface{}{pred("in_hc", nil), pred("in_rack", nil)})},
	}
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		r := NewGraphResolver(tx, f.clusterRef())
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := r.ResolveBuiltin(BuiltinHost, tt.node); err == nil {
					t.Error("expected an error")
				}
			})
		}
		return nil
	})
}

func TestGraphResolver_Builtins(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		owner   model.Ref
		builtin string
		args    map[string]interface{}
		want    []string
	}{
		{"host_in_cluster", f.clusterRef(), BuiltinHostInCluster, nil, []string{"h1", "h2"}},
		{"host_in_cluster service", f.clusterRef(), BuiltinHostInCluster, svcArgs("zk", ""), []string{"h1"}},
		{"host_in_cluster component", f.clusterRef(), BuiltinHostInCluster, svcArgs("zk", "server"), []string{"h1"}},
		{"host_in_cluster missing service", f.clusterRef(), BuiltinHostInCluster, svcArgs("kafka", ""), nil},
		{"host_in_cluster from service", model.NewRef(model.TypeService, f.service), BuiltinHostInCluster, nil, []string{"h1", "h2"}},
		{"host_not_in_clusters", f.clusterRef(), BuiltinHostNotInClusters, nil, []string{"h3"}},
		{"host_not_in_clusters from provider", model.NewRef(model.TypeProvider, f.provider), BuiltinHostNotInClusters, nil, []string{"h3"}},
		{"service_in_cluster", f.clusterRef(), BuiltinServiceInCluster, nil, []string{"zk"}},
		{"service_to_add", f.clusterRef(), BuiltinServiceToAdd, nil, []string{"kafka"}},
		{"service_to_add outside a cluster", model.NewRef(model.TypeProvider, f.provider), BuiltinServiceToAdd, nil, nil},
		{"host outside a cluster", model.NewRef(model.TypeProvider, f.provider), BuiltinHost, pred("in_cluster", nil), nil},
		{"host_in_cluster outside a cluster", model.NewRef(model.TypeProvider, f.provider), BuiltinHostInCluster, nil, nil},
	}
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := NewGraphResolver(tx, tt.owner).ResolveBuiltin(tt.builtin, tt.args)
				if err != nil {
					t.Fatalf("ResolveBuiltin(%s) error = %v", tt.builtin, err)
				}
				if !slices.Equal(strs(got), tt.want) {
					t.Errorf("ResolveBuiltin(%s) = %v, want %v", tt.builtin, got, tt.want)
				}
			})
		}
		if _, err := NewGraphResolver(tx, f.clusterRef()).ResolveBuiltin("datacenter", nil); err == nil {
			t.Error("expected an error for an unknown builtin")
		}
		return nil
	})

	f.update(t, func(tx *stores.Tx) error {
		zk, _ := tx.Prototype(mustService(t, tx, f.cluster, "zk").PrototypeID)
		for _, p := range tx.PrototypesOf(zk.BundleID) {
			if p.Type == model.TypeService && p.Name == "kafka" {
				tx.Services.Insert(&model.Service{Object: model.NewObject(p.ID), ClusterID: f.cluster, Name: "kafka"})
			}
		}
		return nil
	})
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		got, err := NewGraphResolver(tx, f.clusterRef()).ResolveBuiltin(BuiltinServiceToAdd, nil)
		if err != nil || len(got) != 0 {
			t.Errorf("service_to_add with every service added = %v, %v", got, err)
		}
		return nil
	})
}

func mustService(t *testing.T, tx *stores.Tx, clusterID int64, name string) *model.Service {
	t.Helper()
	s, ok := tx.ServiceByName(clusterID, name)
	if !ok {
		t.Fatalf("service %q not found", name)
	}
	return s
}
