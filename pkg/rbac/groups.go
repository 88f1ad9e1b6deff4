package rbac

import (
	"slices"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// GroupInput carries the fields of a group create or update. A nil UserIDs
// leaves membership unchanged on update.
type GroupInput struct {
	Name        string
	Description *string
	UserIDs     []int64
	Type        model.OriginType
}

// Members returns the users of a group ordered by id.
func Members(tx *stores.Tx, groupID int64) []*model.User {
	return tx.Users.Find(func(u *model.User) bool { return slices.Contains(u.GroupIDs, groupID) })
}

func (d *Directory) setMembers(tx *stores.Tx, groupID int64, userIDs []int64) error {
	for _, id := range userIDs {
		if !tx.Users.Has(id) {
			return model.NotFound(model.ErrCodeUserNotFound, "user %d not found", id)
		}
	}
	for _, u := range tx.Users.All() {
		want := slices.Contains(userIDs, u.ID)
		has := slices.Contains(u.GroupIDs, groupID)
		switch {
		case want && !has:
			u.GroupIDs = append(u.GroupIDs, groupID)
			tx.Users.Put(u)
		case !want && has:
			u.GroupIDs = slices.DeleteFunc(u.GroupIDs, func(x int64) bool { return x == groupID })
			tx.Users.Put(u)
		}
	}
	return nil
}

func checkGroupName(tx *stores.Tx, selfID int64, name string, typ model.OriginType) error {
	if tx.Groups.Count(func(g *model.Group) bool {
		return g.ID != selfID && g.DisplayName == name && g.Type == typ
	}) > 0 {
		return model.Conflict(model.ErrCodeGroupConflict, "group with the same name already exists")
	}
	return nil
}

// CreateGroup creates a group and assigns its members.
func (d *Directory) CreateGroup(tx *stores.Tx, in GroupInput) (*model.Group, error) {
	if in.Type == "" {
		in.Type = model.OriginLocal
	}
	g := &model.Group{
		Name:        in.Name,
		DisplayName: in.Name,
		Description: strOr(in.Description, ""),
		Type:        in.Type,
	}
	if err := d.structError(model.KindInvalidInput, model.ErrCodeGroupConflict, g); err != nil {
		return nil, err
	}
	if err := checkGroupName(tx, 0, g.DisplayName, g.Type); err != nil {
		return nil, err
	}
	tx.Groups.Insert(g)
	if err := d.setMembers(tx, g.ID, in.UserIDs); err != nil {
		return nil, err
	}
	return g, nil
}

// UpdateGroup renames a group or changes its description and members. The
// name and membership of a directory-synchronized group are read-only.
func (d *Directory) UpdateGroup(tx *stores.Tx, id int64, in GroupInput) (*model.Group, model.ObjectChanges, error) {
	g, err := tx.Group(id)
	if err != nil {
		return nil, model.ObjectChanges{}, err
	}
	if g.Type == model.OriginLDAP && ((in.Name != "" && in.Name != g.DisplayName) || in.UserIDs != nil) {
		return nil, model.ObjectChanges{}, model.Conflict(model.ErrCodeGroupUpdate, "you cannot change LDAP type group")
	}
	if g.BuiltIn && in.Name != "" && in.Name != g.DisplayName {
		return nil, model.ObjectChanges{}, model.Conflict(model.ErrCodeGroupUpdate, "built-in group %q cannot be renamed", g.DisplayName)
	}
	before := GroupSnapshot(tx, g)
	if in.Name != "" {
		if err := checkGroupName(tx, g.ID, in.Name, g.Type); err != nil {
			return nil, model.ObjectChanges{}, err
		}
		g.DisplayName = in.Name
		if g.Type == model.OriginLocal {
			g.Name = in.Name
		}
	}
	g.Description = strOr(in.Description, g.Description)
	tx.Groups.Put(g)
	if in.UserIDs != nil {
		if err := d.setMembers(tx, g.ID, in.UserIDs); err != nil {
			return nil, model.ObjectChanges{}, err
		}
	}
	return g, Diff(before, GroupSnapshot(tx, g)), nil
}

// DeleteGroup removes a group, its memberships and its policy bindings.
func (d *Directory) DeleteGroup(tx *stores.Tx, id int64) (*model.Group, error) {
	g, err := tx.Group(id)
	if err != nil {
		return nil, err
	}
	if g.BuiltIn {
		return nil, model.Conflict(model.ErrCodeGroupUpdate, "built-in group %q cannot be deleted", g.DisplayName).WithStatus(405)
	}
	if err := d.setMembers(tx, id, nil); err != nil {
		return nil, err
	}
	for _, p := range tx.Policies.Find(func(p *model.Policy) bool { return slices.Contains(p.GroupIDs, id) }) {
		p.GroupIDs = slices.DeleteFunc(p.GroupIDs, func(x int64) bool { return x == id })
		tx.Policies.Put(p)
	}
	tx.Groups.Delete(id)
	return g, nil
}
