package configs

import (
	"fmt"
	"slices"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// Builtin variant sources.
const (
	BuiltinHost              = "host"
	BuiltinHostInCluster     = "host_in_cluster"
	BuiltinHostNotInClusters = "host_not_in_clusters"
	BuiltinServiceInCluster  = "service_in_cluster"
	BuiltinServiceToAdd      = "service_to_add"
)

// GraphResolver resolves builtin variant sources against the live entity graph, in
// the cluster of the config owner.
type GraphResolver struct {
	tx    *stores.Tx
	owner model.Ref
}

// NewGraphResolver creates a resolver for configs owned by owner.
func NewGraphResolver(tx *stores.Tx, owner model.Ref) *GraphResolver {
	return &GraphResolver{tx: tx, owner: owner}
}

// ResolveBuiltin returns the allowed values of a builtin source.
func (r *GraphResolver) ResolveBuiltin(name string, args map[string]interface{}) ([]interface{}, error) {
	clusterID := r.tx.ClusterOf(r.owner)
	switch name {
	case BuiltinHost:
		if clusterID == 0 {
			return nil, nil
		}
		ids, err := r.predicate(clusterID, args)
		if err != nil {
			return nil, err
		}
		return r.fqdns(ids), nil

	case BuiltinHostInCluster:
		if clusterID == 0 {
			return nil, nil
		}
		var ids []int64
		service, _ := args["service"].(string)
		component, _ := args["component"].(string)
		switch {
		case service != "" && component != "":
			ids = r.componentHosts(clusterID, service, component)
		case service != "":
			ids = r.serviceHosts(clusterID, service)
		default:
			ids = r.clusterHosts(clusterID)
		}
		return r.fqdns(ids), nil

	case BuiltinHostNotInClusters:
		var ids []int64
		for _, h := range r.tx.Hosts.Find(func(h *model.Host) bool { return h.ClusterID == 0 }) {
			ids = append(ids, h.ID)
		}
		return r.fqdns(ids), nil

	case BuiltinServiceInCluster:
		var out []interface{}
		for _, s := range r.tx.ServicesOf(clusterID) {
			out = append(out, s.Name)
		}
		return out, nil

	case BuiltinServiceToAdd:
		if clusterID == 0 {
			return nil, nil
		}
		cluster, err := r.tx.Cluster(clusterID)
		if err != nil {
			return nil, err
		}
		proto, err := r.tx.Prototype(cluster.PrototypeID)
		if err != nil {
			return nil, err
		}
		var out []interface{}
		for _, p := range r.tx.PrototypesOf(proto.BundleID) {
			if p.Type != model.TypeService {
				continue
			}
			if _, added := r.tx.ServiceByName(clusterID, p.Name); !added {
				out = append(out, p.Name)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown builtin variant source %q", name)
}

// predicate evaluates a host predicate tree of the form
// {"predicate": name, "args": ...} to a set of host IDs.
func (r *GraphResolver) predicate(clusterID int64, node map[string]interface{}) ([]int64, error) {
	name, _ := node["predicate"].(string)
	switch name {
	case "and", "or":
		subs, ok := node["args"].([]interface{})
		if !ok || len(subs) == 0 {
			return nil, fmt.Errorf("predicate %q needs a list of predicates", name)
		}
		var acc []int64
		for i, s := range subs {
			sub, ok := asTree(s)
			if !ok {
				return nil, fmt.Errorf("predicate %q argument #%d is not a predicate", name, i)
			}
			ids, err := r.predicate(clusterID, sub)
			if err != nil {
				return nil, err
			}
			switch {
			case i == 0:
				acc = ids
			case name == "and":
				acc = intersect(acc, ids)
			default:
				acc = union(acc, ids)
			}
		}
		return acc, nil
	case "in_cluster":
		return r.clusterHosts(clusterID), nil
	case "in_hc":
		return r.mappedHosts(clusterID), nil
	case "not_in_hc":
		return subtract(r.clusterHosts(clusterID), r.mappedHosts(clusterID)), nil
	}

	args, _ := asTree(node["args"])
	service, _ := args["service"].(string)
	component, _ := args["component"].(string)
	switch name {
	case "in_service":
		return r.serviceHosts(clusterID, service), nil
	case "not_in_service":
		return subtract(r.clusterHosts(clusterID), r.serviceHosts(clusterID, service)), nil
	case "in_component":
		return r.componentHosts(clusterID, service, component), nil
	case "not_in_component":
		return subtract(r.clusterHosts(clusterID), r.componentHosts(clusterID, service, component)), nil
	}
	return nil, fmt.Errorf("unknown host predicate %q", name)
}

func (r *GraphResolver) clusterHosts(clusterID int64) []int64 {
	var ids []int64
	for _, h := range r.tx.ClusterHosts(clusterID) {
		ids = append(ids, h.ID)
	}
	return ids
}

func (r *GraphResolver) mappedHosts(clusterID int64) []int64 {
	var ids []int64
	for _, hc := range r.tx.Mapping(clusterID) {
		if !slices.Contains(ids, hc.HostID) {
			ids = append(ids, hc.HostID)
		}
	}
	return ids
}

func (r *GraphResolver) serviceHosts(clusterID int64, service string) []int64 {
	s, ok := r.tx.ServiceByName(clusterID, service)
	if !ok {
		return nil
	}
	return r.tx.HostsOfService(s.ID)
}

func (r *GraphResolver) componentHosts(clusterID int64, service, component string) []int64 {
	s, ok := r.tx.ServiceByName(clusterID, service)
	if !ok {
		return nil
	}
	c, ok := r.tx.ComponentByName(s.ID, component)
	if !ok {
		return nil
	}
	return r.tx.HostsOfComponent(c.ID)
}

func (r *GraphResolver) fqdns(ids []int64) []interface{} {
	slices.Sort(ids)
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if h, ok := r.tx.Hosts.Get(id); ok {
			out = append(out, h.FQDN)
		}
	}
	return out
}

func intersect(a, b []int64) []int64 {
	var out []int64
	for _, id := range a {
		if slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}

func union(a, b []int64) []int64 {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func subtract(a, b []int64) []int64 {
	var out []int64
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}
