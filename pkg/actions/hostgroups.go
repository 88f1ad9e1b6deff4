package actions

import (
	"slices"
	"sort"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

func hostGroupOwner(tx *stores.Tx, owner model.Ref) error {
	switch owner.Type {
	case model.TypeCluster, model.TypeService, model.TypeComponent:
		_, err := tx.Entity(owner)
		return err
	default:
		return model.InvalidInput(model.ErrCodeInvalidObjType, "action host groups are not allowed on %s", owner.Type)
	}
}

// HostGroupCandidates returns the hosts an action host group of owner may contain:
// cluster hosts for a cluster, hosts mapped to the service or component otherwise.
func HostGroupCandidates(tx *stores.Tx, owner model.Ref) []int64 {
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
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// HostGroupsOf returns the action host groups of an object ordered by id.
func HostGroupsOf(tx *stores.Tx, owner model.Ref) []*model.ActionHostGroup {
	groups := tx.ActionHostGroups.Find(func(g *model.ActionHostGroup) bool { return g.Owner == owner })
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// CreateHostGroup creates an empty action host group with a name unique per owner.
func CreateHostGroup(tx *stores.Tx, owner model.Ref, name, desc string) (*model.ActionHostGroup, error) {
	if err := hostGroupOwner(tx, owner); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, model.InvalidInput(model.ErrCodeInvalidInput, "host group name is required")
	}
	if tx.ActionHostGroups.Count(func(g *model.ActionHostGroup) bool {
		return g.Owner == owner && g.Name == name
	}) > 0 {
		return nil, model.Conflict(model.ErrCodeHostGroupConflict, "host group %q already exists on %s", name, owner)
	}
	g := &model.ActionHostGroup{Owner: owner, Name: name, Description: desc, HostIDs: []int64{}}
	tx.ActionHostGroups.Insert(g)
	return g, nil
}

func hostGroup(tx *stores.Tx, id int64) (*model.ActionHostGroup, error) {
	g, ok := tx.ActionHostGroups.Get(id)
	if !ok {
		return nil, model.NotFound(model.ErrCodeHostGroupNotFound, "action host group %d not found", id)
	}
	return g, nil
}

// lockedGroup fails when a task runs on the group.
func lockedGroup(tx *stores.Tx, id int64) error {
	if tx.Tasks.Count(func(t *model.TaskLog) bool {
		return t.ActionHostGroupID == id && t.Status.IsActive()
	}) > 0 {
		return model.Errorf(model.KindLockError, model.ErrCodeLockError, "action host group %d is busy", id)
	}
	return nil
}

// AddHostToGroup adds a candidate host to an action host group.
func AddHostToGroup(tx *stores.Tx, groupID, hostID int64) error {
	g, err := hostGroup(tx, groupID)
	if err != nil {
		return err
	}
	if err := lockedGroup(tx, groupID); err != nil {
		return err
	}
	if !slices.Contains(HostGroupCandidates(tx, g.Owner), hostID) {
		return model.Conflict(model.ErrCodeHostGroupConflict, "host %d cannot be added to action host group %q", hostID, g.Name)
	}
	if slices.Contains(g.HostIDs, hostID) {
		return model.Conflict(model.ErrCodeHostGroupConflict, "host %d is already in action host group %q", hostID, g.Name)
	}
	g.HostIDs = append(g.HostIDs, hostID)
	tx.ActionHostGroups.Put(g)
	return nil
}

// RemoveHostFromGroup removes a host from an action host group.
func RemoveHostFromGroup(tx *stores.Tx, groupID, hostID int64) error {
	g, err := hostGroup(tx, groupID)
	if err != nil {
		return err
	}
	if err := lockedGroup(tx, groupID); err != nil {
		return err
	}
	idx := slices.Index(g.HostIDs, hostID)
	if idx < 0 {
		return model.NotFound(model.ErrCodeHostNotFound, "host %d is not in action host group %q", hostID, g.Name)
	}
	g.HostIDs = slices.Delete(g.HostIDs, idx, idx+1)
	tx.ActionHostGroups.Put(g)
	return nil
}

// DeleteHostGroup removes an idle action host group.
func DeleteHostGroup(tx *stores.Tx, groupID int64) error {
	if _, err := hostGroup(tx, groupID); err != nil {
		return err
	}
	if err := lockedGroup(tx, groupID); err != nil {
		return err
	}
	tx.ActionHostGroups.Delete(groupID)
	return nil
}

// DeleteHostGroupsOf removes the action host groups of an object and of its
// components, before the object is deleted.
func DeleteHostGroupsOf(tx *stores.Tx, owner model.Ref) {
	owners := []model.Ref{owner}
	if owner.Type == model.TypeService {
		for _, c := range tx.ComponentsOf(owner.ID) {
			owners = append(owners, c.Ref())
		}
	}
	tx.ActionHostGroups.DeleteWhere(func(g *model.ActionHostGroup) bool {
		return slices.Contains(owners, g.Owner)
	})
}

// PruneHostGroups drops hosts that are no longer candidates of their groups.
func PruneHostGroups(tx *stores.Tx) int {
	removed := 0
	for _, g := range tx.ActionHostGroups.All() {
		candidates := HostGroupCandidates(tx, g.Owner)
		kept := g.HostIDs[:0]
		for _, id := range g.HostIDs {
			if slices.Contains(candidates, id) {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(g.HostIDs) {
			removed += len(g.HostIDs) - len(kept)
			g.HostIDs = kept
			tx.ActionHostGroups.Put(g)
		}
	}
	return removed
}

func (r *Runtime) checkHostGroup(tx *stores.Tx, a *definition.Action, target model.Ref, groupID int64) error {
	g, err := hostGroup(tx, groupID)
	if err != nil {
		return err
	}
	if g.Owner != target {
		return model.Conflict(model.ErrCodeActionError, "action host group %q does not belong to %s", g.Name, target)
	}
	if !a.AllowForActionHostGroup {
		return model.Conflict(model.ErrCodeActionError, "action %q is not allowed for action host groups", a.Name)
	}
	if len(g.HostIDs) == 0 {
		return model.Conflict(model.ErrCodeActionError, "action host group %q is empty", g.Name)
	}
	return lockedGroup(tx, groupID)
}
