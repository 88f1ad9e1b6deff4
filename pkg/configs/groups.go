package configs

import (
	"slices"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// groupOwner resolves the owner of a group config with its prototype and current config.
type groupOwner struct {
	ent     model.Entity
	proto   *definition.Prototype
	current *model.ConfigLog
}

func (e *Engine) owner(tx *stores.Tx, ref model.Ref) (*groupOwner, error) {
	switch ref.Type {
	case model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeProvider:
	default:
		return nil, model.InvalidInput(model.ErrCodeInvalidObjType, "%s cannot own group configs", ref.Type)
	}
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	proto, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return nil, err
	}
	current, err := e.Current(tx, ref)
	if err != nil {
		return nil, err
	}
	return &groupOwner{ent: ent, proto: proto, current: current}, nil
}

func (o *groupOwner) schema() definition.Schema {
	return o.proto.Config
}

// GroupsOf returns the group configs of an owner in ID order.
func (e *Engine) GroupsOf(tx *stores.Tx, owner model.Ref) []*model.GroupConfig {
	return tx.GroupConfigs.Find(func(g *model.GroupConfig) bool { return g.Owner == owner })
}

// CreateGroup creates a group config under owner. The group starts as a copy of the
// owner's current config with nothing overridden.
func (e *Engine) CreateGroup(tx *stores.Tx, owner model.Ref, name, desc string) (*model.GroupConfig, error) {
	o, err := e.owner(tx, owner)
	if err != nil {
		return nil, err
	}
	if _, exists := tx.GroupConfigs.First(func(g *model.GroupConfig) bool {
		return g.Owner == owner && g.Name == name
	}); exists {
		return nil, model.Conflict(model.ErrCodeGroupConfigExists, "group config %q already exists for %s", name, owner)
	}

	pd := o.proto.ConfigGroupCustomization
	attr := model.CloneTree(o.current.Attr)
	if attr == nil {
		attr = model.Tree{}
	}
	attr[model.AttrGroupKeys] = mergeGroupKeys(o.schema(), pd, nil)
	attr[model.AttrCustomGroupKeys] = customGroupKeys(o.schema(), pd)

	oc := &model.ObjectConfig{}
	tx.ObjectConfigs.Insert(oc)
	e.appendLog(tx, oc, model.CloneTree(o.current.Config), attr, InitDescription)

	g := &model.GroupConfig{
		Owner:       owner,
		Name:        name,
		Description: desc,
		ConfigID:    oc.ID,
		HostIDs:     []int64{},
	}
	tx.GroupConfigs.Insert(g)
	return g, nil
}

// DeleteGroup removes a group config with its history.
func (e *Engine) DeleteGroup(tx *stores.Tx, groupID int64) error {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return err
	}
	e.dropHistory(tx, g.ConfigID)
	tx.GroupConfigs.Delete(g.ID)
	return nil
}

// DeleteGroupsOf removes every group config of an owner.
func (e *Engine) DeleteGroupsOf(tx *stores.Tx, owner model.Ref) {
	for _, g := range e.GroupsOf(tx, owner) {
		e.dropHistory(tx, g.ConfigID)
		tx.GroupConfigs.Delete(g.ID)
	}
}

// DeleteHistory removes the config history of a deleted entity.
func (e *Engine) DeleteHistory(tx *stores.Tx, ent model.Entity) {
	if id := ent.Base().ConfigID; id != 0 {
		e.dropHistory(tx, id)
	}
}

func (e *Engine) dropHistory(tx *stores.Tx, objConfID int64) {
	tx.ConfigLogs.DeleteWhere(func(l *model.ConfigLog) bool { return l.ObjConfID == objConfID })
	tx.ObjectConfigs.Delete(objConfID)
}

// GroupCurrent returns the current config of a group config.
func (e *Engine) GroupCurrent(tx *stores.Tx, groupID int64) (*model.ConfigLog, error) {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return nil, err
	}
	oc, err := tx.ObjectConfig(g.ConfigID)
	if err != nil {
		return nil, err
	}
	return tx.ConfigLog(oc.CurrentID)
}

// GroupHistory returns every config log of a group config, oldest first.
func (e *Engine) GroupHistory(tx *stores.Tx, groupID int64) ([]*model.ConfigLog, error) {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return nil, err
	}
	return historyOf(tx, g.ConfigID), nil
}

// UpdateGroup writes a group config. Only leaves flagged in attr.group_keys keep the
// sent values; the others take the owner's current values.
func (e *Engine) UpdateGroup(tx *stores.Tx, groupID int64, cfg, attr model.Tree, desc string) (*model.ConfigLog, error) {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return nil, err
	}
	o, err := e.owner(tx, g.Owner)
	if err != nil {
		return nil, err
	}
	oc, err := tx.ObjectConfig(g.ConfigID)
	if err != nil {
		return nil, err
	}
	current, err := tx.ConfigLog(oc.CurrentID)
	if err != nil {
		return nil, err
	}
	if attr == nil {
		attr = model.Tree{}
	}
	schema, pd := o.schema(), o.proto.ConfigGroupCustomization
	if errs := checkGroupKeys(schema, pd, attr); len(errs) > 0 {
		return nil, invalidConfig(errs)
	}
	keys, ok := asTree(attr[model.AttrGroupKeys])
	if !ok {
		keys, _ = asTree(current.Attr[model.AttrGroupKeys])
	}
	keys = mergeGroupKeys(schema, pd, keys)

	merged, newAttr := compose(schema, o.current, cfg, mergeActivation(schema, current.Attr, attr), keys)
	out, err := e.validator.Check(Input{
		Schema:   schema,
		Config:   merged,
		Attr:     newAttr,
		Previous: current.Config,
		State:    o.ent.Base().State,
		Strict:   true,
	}, NewGraphResolver(tx, g.Owner))
	if err != nil {
		return nil, err
	}
	newAttr[model.AttrGroupKeys] = keys
	newAttr[model.AttrCustomGroupKeys] = customGroupKeys(schema, pd)
	return e.appendLog(tx, oc, out, newAttr, desc), nil
}

// RestoreGroup makes an earlier history entry of a group config current again, taking
// the owner's current values for leaves that are not overridden.
func (e *Engine) RestoreGroup(tx *stores.Tx, groupID, logID int64) (*model.ConfigLog, error) {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return nil, err
	}
	log, ok := tx.ConfigLogs.Get(logID)
	if !ok || log.ObjConfID != g.ConfigID {
		return nil, model.NotFound(model.ErrCodeConfigNotFound, "config log %d of group config %d does not exist", logID, groupID)
	}
	return e.syncGroup(tx, g, log, log.Description)
}

// compose overlays the overridden leaves of a group onto the owner's config. Activation
// of an activatable group follows the group when its group_keys value is set.
func compose(schema definition.Schema, parent *model.ConfigLog, groupCfg, groupAttr, keys model.Tree) (model.Tree, model.Tree) {
	cfg := model.CloneTree(parent.Config)
	if cfg == nil {
		cfg = model.Tree{}
	}
	for _, leaf := range schema.Leaves() {
		if overridden(keys, leaf) {
			setLeaf(cfg, leaf, model.CloneValue(leafValue(groupCfg, leaf)))
		}
	}
	attr := model.Tree{}
	for _, f := range schema.Activatable() {
		src := parent.Attr
		if groupValue(keys, f.Name) {
			src = groupAttr
		}
		active := f.Limits.Active
		if a, ok := asTree(src[f.Name]); ok {
			if b, ok := a["active"].(bool); ok {
				active = b
			}
		}
		attr[f.Name] = map[string]interface{}{"active": active}
	}
	return cfg, attr
}

// SyncGroups rebuilds the group configs of an owner after the owner's config changed.
// Each group gets a new history entry holding the owner's values with its overridden
// leaves kept.
func (e *Engine) SyncGroups(tx *stores.Tx, owner model.Ref, desc string) error {
	for _, g := range e.GroupsOf(tx, owner) {
		oc, err := tx.ObjectConfig(g.ConfigID)
		if err != nil {
			return err
		}
		current, err := tx.ConfigLog(oc.CurrentID)
		if err != nil {
			return err
		}
		if _, err := e.syncGroup(tx, g, current, desc); err != nil {
			return err
		}
	}
	return nil
}

// syncGroup writes a group entry derived from base, a history entry of that group.
func (e *Engine) syncGroup(tx *stores.Tx, g *model.GroupConfig, base *model.ConfigLog, desc string) (*model.ConfigLog, error) {
	o, err := e.owner(tx, g.Owner)
	if err != nil {
		return nil, err
	}
	oc, err := tx.ObjectConfig(g.ConfigID)
	if err != nil {
		return nil, err
	}
	schema, pd := o.schema(), o.proto.ConfigGroupCustomization
	prevKeys, _ := asTree(base.Attr[model.AttrGroupKeys])
	keys := mergeGroupKeys(schema, pd, prevKeys)
	cfg, attr := compose(schema, o.current, base.Config, base.Attr, keys)
	attr[model.AttrGroupKeys] = keys
	attr[model.AttrCustomGroupKeys] = customGroupKeys(schema, pd)
	return e.appendLog(tx, oc, cfg, attr, desc), nil
}

// HostCandidates returns the hosts that may join a group config: cluster hosts for a
// cluster, hosts mapped to the service or component for those, provider hosts for a
// provider. Hosts already in another group of the same owner are excluded.
func (e *Engine) HostCandidates(tx *stores.Tx, groupID int64) ([]int64, error) {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return nil, err
	}
	taken := make(map[int64]bool)
	for _, other := range e.GroupsOf(tx, g.Owner) {
		for _, id := range other.HostIDs {
			taken[id] = true
		}
	}
	var out []int64
	for _, id := range eligibleHosts(tx, g.Owner) {
		if !taken[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func eligibleHosts(tx *stores.Tx, owner model.Ref) []int64 {
	var ids []int64
	switch owner.Type {
	case model.TypeCluster:
		for _, h := range tx.ClusterHosts(owner.ID) {
			ids = append(ids, h.ID)
		}
	case model.TypeService:
		ids = tx.HostsOfService(owner.ID)
	case model.TypeComponent:
		ids = tx.HostsOfComponent(owner.ID)
	case model.TypeProvider:
		for _, h := range tx.ProviderHosts(owner.ID) {
			ids = append(ids, h.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// AddHost adds a candidate host to a group config.
func (e *Engine) AddHost(tx *stores.Tx, groupID, hostID int64) error {
	candidates, err := e.HostCandidates(tx, groupID)
	if err != nil {
		return err
	}
	if !slices.Contains(candidates, hostID) {
		return model.Conflict(model.ErrCodeGroupConfigHost, "host %d is not a candidate for group config %d", hostID, groupID)
	}
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return err
	}
	g.HostIDs = append(g.HostIDs, hostID)
	tx.GroupConfigs.Put(g)
	return nil
}

// RemoveHost removes a member host from a group config.
func (e *Engine) RemoveHost(tx *stores.Tx, groupID, hostID int64) error {
	g, err := tx.GroupConfig(groupID)
	if err != nil {
		return err
	}
	if !g.RemoveHost(hostID) {
		return model.Conflict(model.ErrCodeGroupConfigHost, "host %d is not in group config %d", hostID, groupID)
	}
	tx.GroupConfigs.Put(g)
	return nil
}

// PruneHosts drops group members that are no longer eligible for their group's owner,
// after a mapping change or a host leaving its cluster. It returns the number of
// memberships removed.
func (e *Engine) PruneHosts(tx *stores.Tx) int {
	removed := 0
	for _, g := range tx.GroupConfigs.All() {
		eligible := eligibleHosts(tx, g.Owner)
		kept := g.HostIDs[:0:0]
		for _, id := range g.HostIDs {
			if slices.Contains(eligible, id) {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(g.HostIDs) {
			removed += len(g.HostIDs) - len(kept)
			g.HostIDs = kept
			tx.GroupConfigs.Put(g)
		}
	}
	if removed > 0 {
		e.logger.Debug().Int("removed", removed).Msg("pruned group config members")
	}
	return removed
}

// HostConfig returns the effective config of a host for an owner: the config of the
// owner's group that contains the host, or the owner's own config.
func (e *Engine) HostConfig(tx *stores.Tx, owner model.Ref, hostID int64) (*model.ConfigLog, error) {
	for _, g := range e.GroupsOf(tx, owner) {
		if g.HasHost(hostID) {
			return e.GroupCurrent(tx, g.ID)
		}
	}
	return e.Current(tx, owner)
}
