package mapping

import (
	"slices"
	"sort"

	"github.com/openadcm/adcm/pkg/configs"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

// Engine validates and applies cluster mappings.
type Engine struct {
	logger  zerolog.Logger
	configs *configs.Engine
}

// NewEngine creates a mapping engine. Group config membership is revoked through cfg.
func NewEngine(logger zerolog.Logger, cfg *configs.Engine) *Engine {
	return &Engine{
		logger:  logger.With().Str("component", "mapping").Logger(),
		configs: cfg,
	}
}

// Resolve turns requested pairs into mapping entries, checking duplicates and that
// every host and component belongs to the cluster.
func (e *Engine) Resolve(tx *stores.Tx, clusterID int64, req []Entry) ([]model.HCEntry, error) {
	seen := make(map[Entry]bool, len(req))
	for _, r := range req {
		if seen[r] {
			return nil, model.InvalidInput(model.ErrCodeInvalidInput,
				"duplicate host %d and component %d in host component list", r.HostID, r.ComponentID)
		}
		seen[r] = true
	}

	out := make([]model.HCEntry, 0, len(req))
	for _, r := range req {
		host, ok := tx.Hosts.Get(r.HostID)
		if !ok || host.ClusterID != clusterID {
			return nil, model.NotFound(model.ErrCodeHostNotFound, "host %d does not belong to cluster %d", r.HostID, clusterID)
		}
		comp, ok := tx.Components.Get(r.ComponentID)
		if !ok || comp.ClusterID != clusterID {
			return nil, model.NotFound(model.ErrCodeComponentNotFound, "component %d does not belong to cluster %d", r.ComponentID, clusterID)
		}
		out = append(out, model.HCEntry{HostID: r.HostID, ServiceID: comp.ServiceID, ComponentID: r.ComponentID})
	}
	return out, nil
}

// Check validates a full mapping of a cluster: required services, component
// requires and bound_to, host count constraints and maintenance mode.
func (e *Engine) Check(tx *stores.Tx, clusterID int64, entries []model.HCEntry) error {
	if err := e.checkTopology(tx, clusterID, entries); err != nil {
		return err
	}
	for _, entry := range entries {
		host, err := tx.Host(entry.HostID)
		if err != nil {
			return err
		}
		if host.InMaintenance() {
			return model.Conflict(model.ErrCodeHostInMM, "host %q is in maintenance mode", host.FQDN)
		}
	}
	return nil
}

// CheckCurrent validates the stored mapping of a cluster against the topology rules,
// without maintenance mode. It backs the host-component issue.
func (e *Engine) CheckCurrent(tx *stores.Tx, clusterID int64) error {
	return e.checkTopology(tx, clusterID, Entries(tx.Mapping(clusterID)))
}

func (e *Engine) checkTopology(tx *stores.Tx, clusterID int64, entries []model.HCEntry) error {
	services := tx.ServicesOf(clusterID)
	// An empty mapping places nothing, so missing required services are left to
	// the required-service issue.
	if len(entries) > 0 {
		if err := checkRequiredServices(tx, clusterID, services); err != nil {
			return err
		}
	}
	if err := checkRequires(tx, clusterID, entries); err != nil {
		return err
	}
	return checkConstraints(tx, clusterID, services, entries)
}

func checkRequiredServices(tx *stores.Tx, clusterID int64, services []*model.Service) error {
	for _, s := range services {
		proto, err := tx.Prototype(s.PrototypeID)
		if err != nil {
			return err
		}
		for _, req := range proto.Requires {
			if _, ok := tx.ServiceByName(clusterID, req.Service); !ok {
				return model.Conflict(model.ErrCodeServiceConflict,
					"No required service %q for service %q", req.Service, s.DisplayName())
			}
		}
	}
	return nil
}

func checkRequires(tx *stores.Tx, clusterID int64, entries []model.HCEntry) error {
	hostsOf := make(map[int64][]int64)
	var mapped []int64
	for _, entry := range entries {
		if _, ok := hostsOf[entry.ComponentID]; !ok {
			mapped = append(mapped, entry.ComponentID)
		}
		hostsOf[entry.ComponentID] = append(hostsOf[entry.ComponentID], entry.HostID)
	}

	for _, compID := range mapped {
		comp, err := tx.Component(compID)
		if err != nil {
			return err
		}
		proto, err := tx.Prototype(comp.PrototypeID)
		if err != nil {
			return err
		}
		for _, req := range proto.Requires {
			svc, ok := tx.ServiceByName(clusterID, req.Service)
			if !ok {
				return constraintError(
					"No required service %q for component %q", req.Service, comp.DisplayName())
			}
			if req.Component == "" {
				continue
			}
			if _, ok := tx.ComponentByName(svc.ID, req.Component); !ok {
				return constraintError(
					"No required component %q of service %q for component %q", req.Component, req.Service, comp.DisplayName())
			}
		}
		if proto.BoundTo == nil {
			continue
		}
		svc, ok := tx.ServiceByName(clusterID, proto.BoundTo.Service)
		var target *model.Component
		if ok {
			target, ok = tx.ComponentByName(svc.ID, proto.BoundTo.Component)
		}
		if !ok {
			return constraintError(
				"No bound service %q component %q for component %q", proto.BoundTo.Service, proto.BoundTo.Component, comp.DisplayName())
		}
		for _, hostID := range hostsOf[compID] {
			if !slices.Contains(hostsOf[target.ID], hostID) {
				return constraintError(
					"No component %q of service %q on host %d for bound component %q",
					proto.BoundTo.Component, proto.BoundTo.Service, hostID, comp.DisplayName())
			}
		}
	}
	return nil
}

func checkConstraints(tx *stores.Tx, clusterID int64, services []*model.Service, entries []model.HCEntry) error {
	available := 0
	for _, h := range tx.ClusterHosts(clusterID) {
		if !h.InMaintenance() {
			available++
		}
	}
	count := make(map[int64]int)
	for _, entry := range entries {
		count[entry.ComponentID]++
	}
	for _, s := range services {
		for _, comp := range tx.ComponentsOf(s.ID) {
			proto, err := tx.Prototype(comp.PrototypeID)
			if err != nil {
				return err
			}
			if !proto.Constraint.Check(count[comp.ID], available) {
				return constraintError(
					"Amount of %q components of service %q should be %s, got %d",
					comp.DisplayName(), s.DisplayName(), proto.Constraint, count[comp.ID]).
					WithDetail("constraint", proto.Constraint.String())
			}
		}
	}
	return nil
}

// Set replaces the mapping of a cluster after checking it. Group config members that
// are no longer mapped to a service or component leave those groups.
func (e *Engine) Set(tx *stores.Tx, clusterID int64, req []Entry) (Diff, error) {
	if _, err := tx.Cluster(clusterID); err != nil {
		return Diff{}, err
	}
	entries, err := e.Resolve(tx, clusterID, req)
	if err != nil {
		return Diff{}, err
	}
	if err := e.Check(tx, clusterID, entries); err != nil {
		return Diff{}, err
	}
	return e.Apply(tx, clusterID, entries), nil
}

// Apply stores a mapping that was already checked and returns the diff.
func (e *Engine) Apply(tx *stores.Tx, clusterID int64, entries []model.HCEntry) Diff {
	prev := tx.Mapping(clusterID)
	diff := Compute(Entries(prev), entries)
	if diff.Empty() {
		return diff
	}

	removed := make(map[model.HCEntry]bool, len(diff.Removed))
	for _, entry := range diff.Removed {
		removed[entry] = true
	}
	for _, hc := range prev {
		if removed[hc.Entry()] {
			tx.HostComponents.Delete(hc.ID)
		}
	}
	for _, entry := range diff.Added {
		tx.HostComponents.Insert(&model.HostComponent{
			ClusterID:   clusterID,
			HostID:      entry.HostID,
			ServiceID:   entry.ServiceID,
			ComponentID: entry.ComponentID,
		})
	}
	if len(diff.Removed) > 0 && e.configs != nil {
		e.configs.PruneHosts(tx)
	}
	e.logger.Debug().
		Int64("cluster_id", clusterID).
		Int("added", len(diff.Added)).
		Int("removed", len(diff.Removed)).
		Msg("mapping updated")
	return diff
}

// Mapping returns the mapping of a cluster ordered by host and component.
func (e *Engine) Mapping(tx *stores.Tx, clusterID int64) []model.HCEntry {
	out := Entries(tx.Mapping(clusterID))
	sort.Slice(out, func(i, j int) bool {
		if out[i].HostID != out[j].HostID {
			return out[i].HostID < out[j].HostID
		}
		return out[i].ComponentID < out[j].ComponentID
	})
	return out
}

// HostsOf returns the hosts mapped to a component.
func (e *Engine) HostsOf(tx *stores.Tx, componentID int64) []*model.Host {
	var out []*model.Host
	for _, id := range tx.HostsOfComponent(componentID) {
		if h, ok := tx.Hosts.Get(id); ok {
			out = append(out, h)
		}
	}
	return out
}

// ComponentsOf returns the components mapped on a host.
func (e *Engine) ComponentsOf(tx *stores.Tx, hostID int64) []*model.Component {
	var out []*model.Component
	for _, hc := range tx.MappingOfHost(hostID) {
		if c, ok := tx.Components.Get(hc.ComponentID); ok {
			out = append(out, c)
		}
	}
	return out
}

// ComponentRequires returns the services and components a component depends on,
// following requires declarations transitively, as {service: [component, ...]}.
func (e *Engine) ComponentRequires(tx *stores.Tx, componentID int64) (map[string][]string, error) {
	comp, err := tx.Component(componentID)
	if err != nil {
		return nil, err
	}
	proto, err := tx.Prototype(comp.PrototypeID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	visited := map[int64]bool{proto.ID: true}
	queue := slices.Clone(proto.Requires)
	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]
		if _, ok := out[req.Service]; !ok {
			out[req.Service] = []string{}
		}
		if req.Component != "" && !slices.Contains(out[req.Service], req.Component) {
			out[req.Service] = append(out[req.Service], req.Component)
		}
		next, ok := requiredPrototype(tx, proto.BundleID, req)
		if !ok || visited[next.ID] {
			continue
		}
		visited[next.ID] = true
		queue = append(queue, next.Requires...)
	}
	return out, nil
}

func requiredPrototype(tx *stores.Tx, bundleID int64, req definition.Require) (*definition.Prototype, bool) {
	svc, ok := tx.PrototypeByName(bundleID, model.TypeService, req.Service)
	if !ok || req.Component == "" {
		return svc, ok
	}
	for _, p := range tx.ChildPrototypes(svc.ID) {
		if p.Name == req.Component {
			return p, true
		}
	}
	return nil, false
}

func constraintError(format string, args ...interface{}) *model.Error {
	return model.Errorf(model.KindComponentConstraint, model.ErrCodeComponentConstraint, format, args...)
}
