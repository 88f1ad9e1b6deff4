package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

var typeTitles = map[model.ObjectType]string{
	model.TypeADCM:      "ADCM",
	model.TypeCluster:   "Cluster",
	model.TypeService:   "Service",
	model.TypeComponent: "Component",
	model.TypeProvider:  "Provider",
	model.TypeHost:      "Host",
}

// ConfigUpdate is a new config of an object or a group config.
type ConfigUpdate struct {
	Config      model.Tree
	Attr        model.Tree
	Description string
}

// Config returns the current config of an object.
func (m *Manager) Config(ctx context.Context, ref model.Ref) (*model.ConfigLog, error) {
	return read(ctx, m, func(tx *stores.Tx) (*model.ConfigLog, error) { return m.configs.Current(tx, ref) })
}

// ConfigHistory returns the config history of an object, oldest first.
func (m *Manager) ConfigHistory(ctx context.Context, ref model.Ref) ([]*model.ConfigLog, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.ConfigLog, error) { return m.configs.History(tx, ref) })
}

// UpdateConfig validates and stores a new config of an object. The group configs
// of the object follow in the same transaction.
func (m *Manager) UpdateConfig(ctx context.Context, p model.Principal, ref model.Ref, up ConfigUpdate) (*model.ConfigLog, error) {
	var out *model.ConfigLog
	c := &command{
		name:      "config.update",
		principal: p,
		verb:      rbac.VerbChangeConfig,
		object:    ref,
		op:        auditEntry(typeTitles[ref.Type]+" configuration updated", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, err = m.configs.Update(tx, ref, up.Config, up.Attr, up.Description)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// RestoreConfig makes an earlier config of an object current again.
func (m *Manager) RestoreConfig(ctx context.Context, p model.Principal, ref model.Ref, logID int64) (*model.ConfigLog, error) {
	var out *model.ConfigLog
	c := &command{
		name:      "config.restore",
		principal: p,
		verb:      rbac.VerbChangeConfig,
		object:    ref,
		op:        auditEntry(typeTitles[ref.Type]+" configuration restored", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, err = m.configs.Restore(tx, ref, logID)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// ADCMRef returns the reference of the ADCM object.
func (m *Manager) ADCMRef(ctx context.Context) (model.Ref, error) {
	return read(ctx, m, func(tx *stores.Tx) (model.Ref, error) {
		a, err := tx.ADCMObject()
		if err != nil {
			return model.Ref{}, err
		}
		return a.Ref(), nil
	})
}

// GroupConfigs lists the group configs of an object.
func (m *Manager) GroupConfigs(ctx context.Context, owner model.Ref) ([]*model.GroupConfig, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.GroupConfig, error) {
		if _, err := tx.Entity(owner); err != nil {
			return nil, err
		}
		return m.configs.GroupsOf(tx, owner), nil
	})
}

// groupCommand builds a command on a group config, authorized as a config change
// of the group owner.
func (m *Manager) groupCommand(ctx context.Context, p model.Principal, name string, groupID int64, opName string) (*command, error) {
	g, err := read(ctx, m, func(tx *stores.Tx) (*model.GroupConfig, error) { return tx.GroupConfig(groupID) })
	if err != nil {
		return nil, err
	}
	return &command{
		name:      name,
		principal: p,
		verb:      rbac.VerbChangeConfig,
		object:    g.Owner,
		op:        auditEntry(g.Name+" "+opName, model.OperationUpdate, g.Owner, ""),
	}, nil
}

// CreateGroupConfig creates a group config under an object. The group starts
// with the current config of its owner.
func (m *Manager) CreateGroupConfig(ctx context.Context, p model.Principal, owner model.Ref, name, desc string) (*model.GroupConfig, error) {
	var out *model.GroupConfig
	c := &command{
		name:      "group_config.create",
		principal: p,
		verb:      rbac.VerbChangeConfig,
		object:    owner,
		op:        auditEntry(name+" configuration group created", model.OperationCreate, owner, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		if name == "" {
			return model.InvalidInput(model.ErrCodeInvalidInput, "group config name is required")
		}
		var err error
		out, err = m.configs.CreateGroup(tx, owner, name, desc)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteGroupConfig deletes a group config with its history.
func (m *Manager) DeleteGroupConfig(ctx context.Context, p model.Principal, groupID int64) error {
	c, err := m.groupCommand(ctx, p, "group_config.delete", groupID, "configuration group deleted")
	if err != nil {
		return err
	}
	c.op.Type = model.OperationDelete
	c.mutate = func(tx *stores.Tx) error { return m.configs.DeleteGroup(tx, groupID) }
	return m.exec(ctx, c)
}

// GroupConfig returns the current config of a group config.
func (m *Manager) GroupConfig(ctx context.Context, groupID int64) (*model.ConfigLog, error) {
	return read(ctx, m, func(tx *stores.Tx) (*model.ConfigLog, error) { return m.configs.GroupCurrent(tx, groupID) })
}

// GroupConfigHistory returns the history of a group config, oldest first.
func (m *Manager) GroupConfigHistory(ctx context.Context, groupID int64) ([]*model.ConfigLog, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.ConfigLog, error) { return m.configs.GroupHistory(tx, groupID) })
}

// UpdateGroupConfig stores a new config of a group config. Only leaves marked in
// attr.group_keys override the owner.
func (m *Manager) UpdateGroupConfig(ctx context.Context, p model.Principal, groupID int64, up ConfigUpdate) (*model.ConfigLog, error) {
	c, err := m.groupCommand(ctx, p, "group_config.update", groupID, "configuration group updated")
	if err != nil {
		return nil, err
	}
	var out *model.ConfigLog
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, err = m.configs.UpdateGroup(tx, groupID, up.Config, up.Attr, up.Description)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// RestoreGroupConfig makes an earlier config of a group config current again.
func (m *Manager) RestoreGroupConfig(ctx context.Context, p model.Principal, groupID, logID int64) (*model.ConfigLog, error) {
	c, err := m.groupCommand(ctx, p, "group_config.restore", groupID, "configuration group restored")
	if err != nil {
		return nil, err
	}
	var out *model.ConfigLog
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, err = m.configs.RestoreGroup(tx, groupID, logID)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupHostCandidates returns the hosts that may join a group config.
func (m *Manager) GroupHostCandidates(ctx context.Context, groupID int64) ([]int64, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]int64, error) { return m.configs.HostCandidates(tx, groupID) })
}

// AddGroupHost adds a candidate host to a group config.
func (m *Manager) AddGroupHost(ctx context.Context, p model.Principal, groupID, hostID int64) error {
	c, err := m.groupCommand(ctx, p, "group_config.host.add", groupID, "configuration group updated")
	if err != nil {
		return err
	}
	c.roots = []model.Ref{model.NewRef(model.TypeHost, hostID)}
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		g, err := tx.GroupConfig(groupID)
		if err != nil {
			return err
		}
		c.op.Name = h.FQDN + " host added to " + g.Name + " configuration group"
		return m.configs.AddHost(tx, groupID, hostID)
	}
	return m.exec(ctx, c)
}

// RemoveGroupHost removes a host from a group config.
func (m *Manager) RemoveGroupHost(ctx context.Context, p model.Principal, groupID, hostID int64) error {
	c, err := m.groupCommand(ctx, p, "group_config.host.remove", groupID, "configuration group updated")
	if err != nil {
		return err
	}
	c.roots = []model.Ref{model.NewRef(model.TypeHost, hostID)}
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		g, err := tx.GroupConfig(groupID)
		if err != nil {
			return err
		}
		c.op.Name = h.FQDN + " host removed from " + g.Name + " configuration group"
		return m.configs.RemoveHost(tx, groupID, hostID)
	}
	return m.exec(ctx, c)
}
