package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// SetMapping replaces the host-component mapping of a cluster. Hosts leaving a
// service or component also leave its group configs and action host groups.
func (m *Manager) SetMapping(ctx context.Context, p model.Principal, clusterID int64, entries []mapping.Entry) (mapping.Diff, error) {
	ref := model.NewRef(model.TypeCluster, clusterID)
	var diff mapping.Diff
	var size int
	c := &command{
		name:      "mapping.set",
		principal: p,
		verb:      rbac.VerbMapHosts,
		object:    ref,
		op:        auditEntry("Host-Component map updated", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		var err error
		if diff, err = m.mapping.Set(tx, clusterID, entries); err != nil {
			return err
		}
		if len(diff.Removed) > 0 {
			actions.PruneHostGroups(tx)
		}
		size = len(tx.Mapping(clusterID))
		return nil
	}
	c.after = append(c.after, func(context.Context) {
		_ = m.tel.Events.PublishMappingUpdated(clusterID, size)
	})
	err := m.exec(ctx, c)
	result := "success"
	if err != nil {
		result = "fail"
	}
	m.tel.Metrics.RecordMappingUpdate(result)
	return diff, err
}

// Mapping returns the mapping of a cluster.
func (m *Manager) Mapping(ctx context.Context, clusterID int64) ([]model.HCEntry, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]model.HCEntry, error) {
		if _, err := tx.Cluster(clusterID); err != nil {
			return nil, err
		}
		return m.mapping.Mapping(tx, clusterID), nil
	})
}

// HostsOfComponent returns the hosts a component is mapped to.
func (m *Manager) HostsOfComponent(ctx context.Context, componentID int64) ([]*model.Host, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Host, error) {
		if _, err := tx.Component(componentID); err != nil {
			return nil, err
		}
		return m.mapping.HostsOf(tx, componentID), nil
	})
}

// ComponentsOfHost returns the components mapped on a host.
func (m *Manager) ComponentsOfHost(ctx context.Context, hostID int64) ([]*model.Component, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Component, error) {
		if _, err := tx.Host(hostID); err != nil {
			return nil, err
		}
		return m.mapping.ComponentsOf(tx, hostID), nil
	})
}

// ComponentRequires returns what a component depends on as {service: [component, ...]}.
func (m *Manager) ComponentRequires(ctx context.Context, componentID int64) (map[string][]string, error) {
	return read(ctx, m, func(tx *stores.Tx) (map[string][]string, error) {
		return m.mapping.ComponentRequires(tx, componentID)
	})
}
