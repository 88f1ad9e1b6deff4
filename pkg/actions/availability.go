package actions

import (
	"slices"
	"sort"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// StateAllows applies the state and multi-state masks of an action to an object.
// Unavailability wins over availability, including "any".
func StateAllows(a *definition.Action, obj *model.Object) bool {
	if a.StateUnavailable.Contains(obj.State) {
		return false
	}
	if !a.MultiStateUnavailable.IsEmpty() {
		for _, flag := range obj.MultiState {
			if a.MultiStateUnavailable.Contains(flag) {
				return false
			}
		}
	}
	if !a.StateAvailable.Contains(obj.State) {
		return false
	}
	return a.MultiStateAvailable.Intersects(obj.MultiState)
}

// inMaintenance reports whether an object is switched to maintenance mode.
func inMaintenance(ent model.Entity) bool {
	switch e := ent.(type) {
	case *model.Host:
		return e.InMaintenance()
	case *model.Service:
		return e.MaintenanceMode == model.MaintenanceModeOn
	case *model.Component:
		return e.MaintenanceMode == model.MaintenanceModeOn
	}
	return false
}

// Allowed reports whether an action may run on ent now: state masks match, no
// blocking concern is attached and the object is not in maintenance mode unless the
// action allows it.
func (r *Runtime) Allowed(tx *stores.Tx, a *definition.Action, ent model.Entity) bool {
	return r.check(tx, a, ent) == nil
}

// Available lists the actions that may run from ref now, ordered by id. Hosts also
// get host actions of the cluster objects mapped to them. Upgrade actions are
// listed by upgrades, not here.
func (r *Runtime) Available(tx *stores.Tx, ref model.Ref) ([]*definition.Action, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	var out []*definition.Action
	for _, a := range tx.ActionsOf(ent.Base().PrototypeID) {
		if a.UpgradeName != "" || (a.HostAction && ref.Type != model.TypeHost) {
			continue
		}
		if r.Allowed(tx, a, ent) {
			out = append(out, a)
		}
	}
	if ref.Type == model.TypeHost {
		for _, a := range hostActions(tx, ref.ID) {
			target, err := hostActionTarget(tx, a, ref.ID)
			if err != nil {
				continue
			}
			host, _ := tx.Host(ref.ID)
			if r.Allowed(tx, a, target) && (a.AllowInMaintenanceMode || !host.InMaintenance()) {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// hostActions returns the host actions declared by prototypes of the cluster objects
// mapped to a host.
func hostActions(tx *stores.Tx, hostID int64) []*definition.Action {
	var protos []int64
	add := func(id int64) {
		if !slices.Contains(protos, id) {
			protos = append(protos, id)
		}
	}
	for _, hc := range tx.MappingOfHost(hostID) {
		if c, ok := tx.Components.Get(hc.ComponentID); ok {
			add(c.PrototypeID)
		}
		if s, ok := tx.Services.Get(hc.ServiceID); ok {
			add(s.PrototypeID)
		}
		if c, ok := tx.Clusters.Get(hc.ClusterID); ok {
			add(c.PrototypeID)
		}
	}
	var out []*definition.Action
	for _, id := range protos {
		for _, a := range tx.ActionsOf(id) {
			if a.HostAction {
				out = append(out, a)
			}
		}
	}
	return out
}

// hostActionTarget resolves the cluster object a host action runs on: the object of
// the declaring prototype that the host is mapped to.
func hostActionTarget(tx *stores.Tx, a *definition.Action, hostID int64) (model.Entity, error) {
	proto, err := tx.Prototype(a.PrototypeID)
	if err != nil {
		return nil, err
	}
	for _, hc := range tx.MappingOfHost(hostID) {
		switch proto.Type {
		case model.TypeComponent:
			if c, ok := tx.Components.Get(hc.ComponentID); ok && c.PrototypeID == proto.ID {
				return c, nil
			}
		case model.TypeService:
			if s, ok := tx.Services.Get(hc.ServiceID); ok && s.PrototypeID == proto.ID {
				return s, nil
			}
		case model.TypeCluster:
			if c, ok := tx.Clusters.Get(hc.ClusterID); ok && c.PrototypeID == proto.ID {
				return c, nil
			}
		}
	}
	return nil, model.Conflict(model.ErrCodeActionError,
		"host %d carries no %s of prototype %q", hostID, proto.Type, proto.Name)
}
