package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// SetMaintenanceMode switches a host, a service or a component in or out of
// maintenance mode. The cluster bundle must allow it; a service takes its
// components along.
func (m *Manager) SetMaintenanceMode(ctx context.Context, p model.Principal, ref model.Ref, on bool) error {
	mode := model.MaintenanceModeOff
	if on {
		mode = model.MaintenanceModeOn
	}
	c := &command{
		name:      "maintenance_mode.set",
		principal: p,
		verb:      rbac.VerbMaintenance,
		object:    ref,
		op:        auditEntry(typeTitles[ref.Type]+" updated", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		ent, err := tx.Entity(ref)
		if err != nil {
			return err
		}
		clusterID := tx.ClusterOf(ref)
		if clusterID == 0 {
			if ref.Type == model.TypeHost {
				return model.Errorf(model.KindMaintenanceModeConflict, model.ErrCodeMaintenanceMode,
					"host %q is not in a cluster", ent.DisplayName())
			}
			return model.Errorf(model.KindMaintenanceModeConflict, model.ErrCodeMaintenanceMode,
				"%s objects have no maintenance mode", ref.Type)
		}
		cl, err := tx.Cluster(clusterID)
		if err != nil {
			return err
		}
		proto, err := tx.Prototype(cl.PrototypeID)
		if err != nil {
			return err
		}
		if !proto.AllowMaintenanceMode {
			return model.Errorf(model.KindMaintenanceModeConflict, model.ErrCodeMaintenanceMode,
				"cluster %q does not allow maintenance mode", cl.Name)
		}

		switch v := ent.(type) {
		case *model.Host:
			if v.MaintenanceMode == mode {
				return nil
			}
			changed(&c.op.Changes, "maintenance_mode", v.MaintenanceMode, mode)
			v.MaintenanceMode = mode
			tx.Hosts.Put(v)
		case *model.Service:
			if v.MaintenanceMode == mode {
				return nil
			}
			changed(&c.op.Changes, "maintenance_mode", v.MaintenanceMode, mode)
			v.MaintenanceMode = mode
			tx.Services.Put(v)
			for _, comp := range tx.ComponentsOf(v.ID) {
				if comp.MaintenanceMode != mode {
					comp.MaintenanceMode = mode
					tx.Components.Put(comp)
				}
			}
		case *model.Component:
			if v.MaintenanceMode == mode {
				return nil
			}
			changed(&c.op.Changes, "maintenance_mode", v.MaintenanceMode, mode)
			v.MaintenanceMode = mode
			tx.Components.Put(v)
		default:
			return model.Errorf(model.KindMaintenanceModeConflict, model.ErrCodeMaintenanceMode,
				"%s objects have no maintenance mode", ref.Type)
		}
		m.logger.Info().Str("object", ref.String()).Str("maintenance_mode", string(mode)).Msg("Maintenance mode changed")
		return nil
	}
	return m.exec(ctx, c)
}
