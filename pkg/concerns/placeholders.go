package concerns

import (
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// IDChain returns the ids addressing an entity: the cluster, service and component
// ids for cluster objects, provider and host ids for hosts.
func IDChain(tx *stores.Tx, ref model.Ref) map[string]int64 {
	ids := map[string]int64{string(ref.Type): ref.ID}
	switch ref.Type {
	case model.TypeService:
		if s, ok := tx.Services.Get(ref.ID); ok {
			ids[string(model.TypeCluster)] = s.ClusterID
		}
	case model.TypeComponent:
		if c, ok := tx.Components.Get(ref.ID); ok {
			ids[string(model.TypeCluster)] = c.ClusterID
			ids[string(model.TypeService)] = c.ServiceID
		}
	case model.TypeHost:
		if h, ok := tx.Hosts.Get(ref.ID); ok {
			ids[string(model.TypeProvider)] = h.ProviderID
		}
	}
	return ids
}

// EntityPlaceholder describes an entity for a template.
func EntityPlaceholder(tx *stores.Tx, ref model.Ref) model.Placeholder {
	name := ref.String()
	if ent, err := tx.Entity(ref); err == nil {
		name = ent.DisplayName()
		if name == "" {
			if proto, err := tx.Prototype(ent.Base().PrototypeID); err == nil {
				name = proto.Title()
			}
		}
	}
	return model.Placeholder{Type: string(ref.Type), Name: name, IDs: IDChain(tx, ref)}
}

// ActionPlaceholder describes an action run on target.
func ActionPlaceholder(tx *stores.Tx, action *definition.Action, target model.Ref) model.Placeholder {
	ids := IDChain(tx, target)
	ids["action"] = action.ID
	name := action.DisplayName
	if name == "" {
		name = action.Name
	}
	return model.Placeholder{Type: "action", Name: name, IDs: ids}
}

// PrototypePlaceholder describes a prototype that is not instantiated yet.
func PrototypePlaceholder(proto *definition.Prototype) model.Placeholder {
	return model.Placeholder{Type: "prototype", Name: proto.Title(), IDs: map[string]int64{"prototype": proto.ID}}
}
