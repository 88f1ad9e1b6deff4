package rbac

import (
	"slices"
	"sort"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// RoleInput is the editable part of a role.
type RoleInput struct {
	Name           string
	DisplayName    string
	Description    string
	Type           model.RoleType
	Categories     []string
	ParametrizedBy []model.ObjectType
	ChildIDs       []int64
	Permissions    []string
}

// Roles returns every role ordered by id.
func Roles(tx *stores.Tx) []*model.Role {
	roles := tx.Roles.All()
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles
}

// Permissions expands a role and its descendants into a sorted permission list.
func Permissions(tx *stores.Tx, roleID int64) ([]string, error) {
	seen := map[int64]bool{}
	set := map[string]bool{}
	var walk func(id int64) error
	walk = func(id int64) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		r, err := tx.Role(id)
		if err != nil {
			return err
		}
		for _, p := range r.Permissions {
			set[p] = true
		}
		for _, c := range r.ChildIDs {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(roleID); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// reaches reports whether target is reachable from any of ids along child edges.
func reaches(tx *stores.Tx, ids []int64, target int64) bool {
	seen := map[int64]bool{}
	stack := slices.Clone(ids)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := tx.Roles.Get(id); ok {
			stack = append(stack, r.ChildIDs...)
		}
	}
	return false
}

func (d *Directory) checkRole(tx *stores.Tx, selfID int64, in RoleInput, code string) error {
	if in.DisplayName == "" {
		in.DisplayName = in.Name
	}
	probe := model.Role{Name: in.Name, DisplayName: in.DisplayName}
	if err := d.structError(model.KindInvalidInput, code, &probe); err != nil {
		return err
	}
	if tx.Roles.Count(func(r *model.Role) bool {
		return r.ID != selfID && (r.Name == in.Name || r.DisplayName == in.DisplayName)
	}) > 0 {
		return model.Conflict(model.ErrCodeRoleConflict, "role %q already exists", in.DisplayName)
	}
	for _, id := range in.ChildIDs {
		child, err := tx.Role(id)
		if err != nil {
			return model.InvalidInput(code, "child role %d does not exist", id)
		}
		if child.Type == model.RoleBusiness && in.Type != model.RoleBusiness {
			return model.InvalidInput(code, "only business roles may include business role %q", child.DisplayName)
		}
	}
	if selfID != 0 && (slices.Contains(in.ChildIDs, selfID) || reaches(tx, in.ChildIDs, selfID)) {
		return model.Conflict(model.ErrCodeRoleUpdate, "child roles of %q form a cycle", in.DisplayName)
	}
	return nil
}

// CreateRole creates a custom business role.
func (d *Directory) CreateRole(tx *stores.Tx, in RoleInput) (*model.Role, error) {
	if in.Type == "" {
		in.Type = model.RoleBusiness
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Name
	}
	if len(in.ChildIDs) == 0 {
		return nil, model.InvalidInput(model.ErrCodeRoleCreate, "a role must include at least one child role")
	}
	if err := d.checkRole(tx, 0, in, model.ErrCodeRoleCreate); err != nil {
		return nil, err
	}
	r := &model.Role{
		Name:           in.Name,
		DisplayName:    in.DisplayName,
		Description:    in.Description,
		Type:           in.Type,
		Categories:     slices.Clone(in.Categories),
		ParametrizedBy: slices.Clone(in.ParametrizedBy),
		ChildIDs:       slices.Clone(in.ChildIDs),
		Permissions:    slices.Clone(in.Permissions),
	}
	tx.Roles.Insert(r)
	d.logger.Info().Int64("role_id", r.ID).Str("role", r.DisplayName).Msg("Role created")
	return r, nil
}

// UpdateRole replaces the editable fields of a custom role.
func (d *Directory) UpdateRole(tx *stores.Tx, id int64, in RoleInput) (*model.Role, model.ObjectChanges, error) {
	r, err := tx.Role(id)
	if err != nil {
		return nil, model.ObjectChanges{}, err
	}
	if r.BuiltIn {
		return nil, model.ObjectChanges{}, model.Conflict(model.ErrCodeRoleUpdate,
			"built-in role %q cannot be changed", r.DisplayName).WithStatus(405)
	}
	if in.Name == "" {
		in.Name = r.Name
	}
	if in.DisplayName == "" {
		in.DisplayName = r.DisplayName
	}
	in.Type = r.Type
	if err := d.checkRole(tx, id, in, model.ErrCodeRoleUpdate); err != nil {
		return nil, model.ObjectChanges{}, err
	}
	before := RoleSnapshot(tx, r)
	r.Name = in.Name
	r.DisplayName = in.DisplayName
	r.Description = in.Description
	r.Categories = slices.Clone(in.Categories)
	r.ParametrizedBy = slices.Clone(in.ParametrizedBy)
	r.ChildIDs = slices.Clone(in.ChildIDs)
	if in.Permissions != nil {
		r.Permissions = slices.Clone(in.Permissions)
	}
	tx.Roles.Put(r)
	return r, Diff(before, RoleSnapshot(tx, r)), nil
}

// DeleteRole removes a custom role that no policy or role uses.
func (d *Directory) DeleteRole(tx *stores.Tx, id int64) (*model.Role, error) {
	r, err := tx.Role(id)
	if err != nil {
		return nil, err
	}
	if r.BuiltIn {
		return nil, model.Conflict(model.ErrCodeRoleDelete,
			"built-in role %q cannot be deleted", r.DisplayName).WithStatus(405)
	}
	if tx.Policies.Count(func(p *model.Policy) bool { return p.RoleID == id }) > 0 {
		return nil, model.Conflict(model.ErrCodeRoleDelete, "role %q is used by a policy", r.DisplayName)
	}
	if tx.Roles.Count(func(o *model.Role) bool { return slices.Contains(o.ChildIDs, id) }) > 0 {
		return nil, model.Conflict(model.ErrCodeRoleDelete, "role %q is a child of another role", r.DisplayName)
	}
	tx.Roles.Delete(id)
	return r, nil
}
