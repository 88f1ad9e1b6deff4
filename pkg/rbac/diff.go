package rbac

import (
	"reflect"
	"sort"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// Snapshot is the audited view of an object.
type Snapshot map[string]interface{}

// Diff keeps the fields that differ between two snapshots.
func Diff(prev, cur Snapshot) model.ObjectChanges {
	changes := model.ObjectChanges{Previous: map[string]interface{}{}, Current: map[string]interface{}{}}
	for k, v := range cur {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			changes.Current[k] = v
			if ok {
				changes.Previous[k] = old
			}
		}
	}
	for k, old := range prev {
		if _, ok := cur[k]; !ok {
			changes.Previous[k] = old
		}
	}
	return changes
}

func sortedNames(names []string) []string {
	if names == nil {
		return []string{}
	}
	sort.Strings(names)
	return names
}

// UserSnapshot renders a user with group names.
func UserSnapshot(tx *stores.Tx, u *model.User) Snapshot {
	var groups []string
	for _, id := range u.GroupIDs {
		if g, ok := tx.Groups.Get(id); ok {
			groups = append(groups, g.CanonicalName())
		}
	}
	return Snapshot{
		"username":     u.Username,
		"first_name":   u.FirstName,
		"last_name":    u.LastName,
		"email":        u.Email,
		"is_superuser": u.IsSuperuser,
		"is_active":    u.IsActive,
		"group":        sortedNames(groups),
	}
}

// GroupSnapshot renders a group with member usernames.
func GroupSnapshot(tx *stores.Tx, g *model.Group) Snapshot {
	var users []string
	for _, u := range Members(tx, g.ID) {
		users = append(users, u.Username)
	}
	return Snapshot{
		"name":        g.DisplayName,
		"description": g.Description,
		"user":        sortedNames(users),
	}
}

// RoleSnapshot renders a role with child display names.
func RoleSnapshot(tx *stores.Tx, r *model.Role) Snapshot {
	var children []string
	for _, id := range r.ChildIDs {
		if c, ok := tx.Roles.Get(id); ok {
			children = append(children, c.DisplayName)
		}
	}
	return Snapshot{
		"display_name": r.DisplayName,
		"description":  r.Description,
		"child":        sortedNames(children),
	}
}

// PolicySnapshot renders a policy with its role, subjects and object names.
func PolicySnapshot(tx *stores.Tx, p *model.Policy) Snapshot {
	role := ""
	if r, ok := tx.Roles.Get(p.RoleID); ok {
		role = r.DisplayName
	}
	var users, groups, objects []string
	for _, id := range p.UserIDs {
		if u, ok := tx.Users.Get(id); ok {
			users = append(users, u.Username)
		}
	}
	for _, id := range p.GroupIDs {
		if g, ok := tx.Groups.Get(id); ok {
			groups = append(groups, g.CanonicalName())
		}
	}
	for _, ref := range p.Objects {
		if ent, err := tx.Entity(ref); err == nil {
			objects = append(objects, ent.DisplayName())
		}
	}
	return Snapshot{
		"name":        p.Name,
		"description": p.Description,
		"role":        role,
		"user":        sortedNames(users),
		"group":       sortedNames(groups),
		"object":      sortedNames(objects),
	}
}
