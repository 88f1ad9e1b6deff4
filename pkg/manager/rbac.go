package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// rbacCommand builds a command on a user, group, role or policy. id 0 is a
// creation.
func rbacCommand(p model.Principal, name, verb string, t model.ObjectType, id int64, opName string, opType model.OperationType) *command {
	ref := model.NewRef(t, id)
	return &command{
		name:      name,
		principal: p,
		verb:      verb,
		object:    ref,
		op:        auditEntry(opName, opType, ref, ""),
	}
}

// CreateUser creates a user.
func (m *Manager) CreateUser(ctx context.Context, p model.Principal, in rbac.UserInput) (*model.User, error) {
	var out *model.User
	c := rbacCommand(p, "user.create", rbac.VerbAdd, rbac.ObjectUser, 0, "User created", model.OperationCreate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		if out, err = m.directory.CreateUser(tx, in); err != nil {
			return err
		}
		c.op.Object, c.op.ObjectName = model.NewRef(rbac.ObjectUser, out.ID), out.Username
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateUser applies the non-nil fields of in to a user.
func (m *Manager) UpdateUser(ctx context.Context, p model.Principal, id int64, in rbac.UserInput) (*model.User, error) {
	var out *model.User
	c := rbacCommand(p, "user.update", rbac.VerbChange, rbac.ObjectUser, id, "User updated", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, c.op.Changes, err = m.directory.UpdateUser(tx, id, in)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// ChangePassword replaces the password of a user. Users may always change
// their own.
func (m *Manager) ChangePassword(ctx context.Context, p model.Principal, id int64, current, next string) error {
	verb := rbac.VerbChange
	if p.UserID == id {
		verb = ""
	}
	c := rbacCommand(p, "user.password", verb, rbac.ObjectUser, id, "User updated", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error { return m.directory.ChangePassword(tx, id, current, next) }
	return m.exec(ctx, c)
}

// BlockUser deactivates a user.
func (m *Manager) BlockUser(ctx context.Context, p model.Principal, id int64) error {
	c := rbacCommand(p, "user.block", rbac.VerbChange, rbac.ObjectUser, id, "User blocked", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error {
		_, err := m.directory.BlockUser(tx, p, id)
		return err
	}
	return m.exec(ctx, c)
}

// UnblockUser reactivates a user.
func (m *Manager) UnblockUser(ctx context.Context, p model.Principal, id int64) error {
	c := rbacCommand(p, "user.unblock", rbac.VerbChange, rbac.ObjectUser, id, "User unblocked", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error {
		_, err := m.directory.UnblockUser(tx, id)
		return err
	}
	return m.exec(ctx, c)
}

// DeleteUser deletes a user.
func (m *Manager) DeleteUser(ctx context.Context, p model.Principal, id int64) error {
	c := rbacCommand(p, "user.delete", rbac.VerbDelete, rbac.ObjectUser, id, "User deleted", model.OperationDelete)
	c.mutate = func(tx *stores.Tx) error {
		_, err := m.directory.DeleteUser(tx, p, id)
		return err
	}
	return m.exec(ctx, c)
}

// Users lists the users.
func (m *Manager) Users(ctx context.Context) ([]*model.User, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.User, error) { return rbac.Users(tx), nil })
}

// CreateGroup creates a user group.
func (m *Manager) CreateGroup(ctx context.Context, p model.Principal, in rbac.GroupInput) (*model.Group, error) {
	var out *model.Group
	c := rbacCommand(p, "group.create", rbac.VerbAdd, rbac.ObjectGroup, 0, "Group created", model.OperationCreate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		if out, err = m.directory.CreateGroup(tx, in); err != nil {
			return err
		}
		c.op.Object, c.op.ObjectName = model.NewRef(rbac.ObjectGroup, out.ID), out.CanonicalName()
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateGroup changes a group and its members.
func (m *Manager) UpdateGroup(ctx context.Context, p model.Principal, id int64, in rbac.GroupInput) (*model.Group, error) {
	var out *model.Group
	c := rbacCommand(p, "group.update", rbac.VerbChange, rbac.ObjectGroup, id, "Group updated", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, c.op.Changes, err = m.directory.UpdateGroup(tx, id, in)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteGroup deletes a group.
func (m *Manager) DeleteGroup(ctx context.Context, p model.Principal, id int64) error {
	c := rbacCommand(p, "group.delete", rbac.VerbDelete, rbac.ObjectGroup, id, "Group deleted", model.OperationDelete)
	c.mutate = func(tx *stores.Tx) error {
		_, err := m.directory.DeleteGroup(tx, id)
		return err
	}
	return m.exec(ctx, c)
}

// Groups lists the groups.
func (m *Manager) Groups(ctx context.Context) ([]*model.Group, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Group, error) { return tx.Groups.All(), nil })
}

// GroupMembers lists the users of a group.
func (m *Manager) GroupMembers(ctx context.Context, id int64) ([]*model.User, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.User, error) {
		if _, err := tx.Group(id); err != nil {
			return nil, err
		}
		return rbac.Members(tx, id), nil
	})
}

// CreateRole creates a custom role.
func (m *Manager) CreateRole(ctx context.Context, p model.Principal, in rbac.RoleInput) (*model.Role, error) {
	var out *model.Role
	c := rbacCommand(p, "role.create", rbac.VerbAdd, rbac.ObjectRole, 0, "Role created", model.OperationCreate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		if out, err = m.directory.CreateRole(tx, in); err != nil {
			return err
		}
		c.op.Object, c.op.ObjectName = model.NewRef(rbac.ObjectRole, out.ID), out.DisplayName
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRole changes a custom role.
func (m *Manager) UpdateRole(ctx context.Context, p model.Principal, id int64, in rbac.RoleInput) (*model.Role, error) {
	var out *model.Role
	c := rbacCommand(p, "role.update", rbac.VerbChange, rbac.ObjectRole, id, "Role updated", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, c.op.Changes, err = m.directory.UpdateRole(tx, id, in)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRole deletes a custom role no policy uses.
func (m *Manager) DeleteRole(ctx context.Context, p model.Principal, id int64) error {
	c := rbacCommand(p, "role.delete", rbac.VerbDelete, rbac.ObjectRole, id, "Role deleted", model.OperationDelete)
	c.mutate = func(tx *stores.Tx) error {
		_, err := m.directory.DeleteRole(tx, id)
		return err
	}
	return m.exec(ctx, c)
}

// Roles lists the roles.
func (m *Manager) Roles(ctx context.Context) ([]*model.Role, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Role, error) { return rbac.Roles(tx), nil })
}

// RolePermissions expands a role into its permission strings.
func (m *Manager) RolePermissions(ctx context.Context, id int64) ([]string, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]string, error) { return rbac.Permissions(tx, id) })
}

// CreatePolicy creates a policy.
func (m *Manager) CreatePolicy(ctx context.Context, p model.Principal, in rbac.PolicyInput) (*model.Policy, error) {
	var out *model.Policy
	c := rbacCommand(p, "policy.create", rbac.VerbAdd, rbac.ObjectPolicy, 0, "Policy created", model.OperationCreate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		if out, err = m.directory.CreatePolicy(tx, in); err != nil {
			return err
		}
		c.op.Object, c.op.ObjectName = model.NewRef(rbac.ObjectPolicy, out.ID), out.Name
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePolicy changes a policy.
func (m *Manager) UpdatePolicy(ctx context.Context, p model.Principal, id int64, in rbac.PolicyInput) (*model.Policy, error) {
	var out *model.Policy
	c := rbacCommand(p, "policy.update", rbac.VerbChange, rbac.ObjectPolicy, id, "Policy updated", model.OperationUpdate)
	c.mutate = func(tx *stores.Tx) error {
		var err error
		out, c.op.Changes, err = m.directory.UpdatePolicy(tx, id, in)
		return err
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePolicy deletes a policy.
func (m *Manager) DeletePolicy(ctx context.Context, p model.Principal, id int64) error {
	c := rbacCommand(p, "policy.delete", rbac.VerbDelete, rbac.ObjectPolicy, id, "Policy deleted", model.OperationDelete)
	c.mutate = func(tx *stores.Tx) error {
		_, err := m.directory.DeletePolicy(tx, id)
		return err
	}
	return m.exec(ctx, c)
}

// Policies lists the policies.
func (m *Manager) Policies(ctx context.Context) ([]*model.Policy, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Policy, error) { return tx.Policies.All(), nil })
}
