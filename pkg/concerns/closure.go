package concerns

import (
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// IssueClosure returns the entities an issue owned by ref is attached to: the owner,
// its ancestors, and for a host the cluster objects it is mapped to.
func IssueClosure(tx *stores.Tx, ref model.Ref) []model.Ref {
	var set model.RefSet
	set.Add(ref)
	set.Add(tx.Parents(ref)...)
	if ref.Type == model.TypeHost {
		for _, hc := range tx.MappingOfHost(ref.ID) {
			set.Add(
				model.NewRef(model.TypeComponent, hc.ComponentID),
				model.NewRef(model.TypeService, hc.ServiceID),
				model.NewRef(model.TypeCluster, hc.ClusterID),
			)
		}
	}
	return set.Items()
}

// LockClosure returns the entities a lock owned by ref is attached to.
func LockClosure(tx *stores.Tx, ref model.Ref) []model.Ref {
	var set model.RefSet
	set.Add(IssueClosure(tx, ref)...)
	switch ref.Type {
	case model.TypeCluster:
		set.Add(tx.Children(ref)...)
	case model.TypeService:
		for _, c := range tx.ComponentsOf(ref.ID) {
			set.Add(c.Ref())
		}
	case model.TypeComponent:
		for _, id := range tx.HostsOfComponent(ref.ID) {
			set.Add(model.NewRef(model.TypeHost, id))
		}
	case model.TypeProvider:
		set.Add(tx.Children(ref)...)
	}
	return set.Items()
}
