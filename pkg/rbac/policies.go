package rbac

import (
	"slices"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// PolicyInput carries the fields of a policy create or update.
type PolicyInput struct {
	Name        string
	Description string
	RoleID      int64
	UserIDs     []int64
	GroupIDs    []int64
	Objects     []model.Ref
}

// PoliciesOf returns the policies naming the user directly or via a group.
func PoliciesOf(tx *stores.Tx, userID int64, groupIDs []int64) []*model.Policy {
	return tx.Policies.Find(func(p *model.Policy) bool {
		if slices.Contains(p.UserIDs, userID) {
			return true
		}
		for _, g := range groupIDs {
			if slices.Contains(p.GroupIDs, g) {
				return true
			}
		}
		return false
	})
}

func (d *Directory) checkPolicy(tx *stores.Tx, selfID int64, in PolicyInput) error {
	probe := model.Policy{Name: in.Name}
	if err := d.structError(model.KindInvalidInput, model.ErrCodePolicyCreate, &probe); err != nil {
		return err
	}
	if tx.Policies.Count(func(p *model.Policy) bool { return p.ID != selfID && p.Name == in.Name }) > 0 {
		return model.Conflict(model.ErrCodePolicyCreate, "policy %q already exists", in.Name)
	}
	role, err := tx.Role(in.RoleID)
	if err != nil {
		return model.InvalidInput(model.ErrCodePolicyCreate, "role %d does not exist", in.RoleID)
	}
	if role.Type == model.RoleHidden {
		return model.InvalidInput(model.ErrCodePolicyCreate, "role %q cannot be used in a policy", role.DisplayName)
	}
	if len(in.UserIDs) == 0 && len(in.GroupIDs) == 0 {
		return model.InvalidInput(model.ErrCodePolicyCreate, "a policy must name at least one user or group")
	}
	for _, id := range in.UserIDs {
		if !tx.Users.Has(id) {
			return model.NotFound(model.ErrCodeUserNotFound, "user %d not found", id)
		}
	}
	for _, id := range in.GroupIDs {
		if !tx.Groups.Has(id) {
			return model.NotFound(model.ErrCodeGroupNotFound, "group %d not found", id)
		}
	}
	if len(role.ParametrizedBy) == 0 && len(in.Objects) > 0 {
		return model.InvalidInput(model.ErrCodePolicyCreate, "role %q does not accept objects", role.DisplayName)
	}
	if len(role.ParametrizedBy) > 0 && len(in.Objects) == 0 {
		return model.InvalidInput(model.ErrCodePolicyCreate, "role %q requires at least one object", role.DisplayName)
	}
	for _, ref := range in.Objects {
		if !slices.Contains(role.ParametrizedBy, ref.Type) {
			return model.InvalidInput(model.ErrCodePolicyCreate, "role %q is not parametrized by %s", role.DisplayName, ref.Type)
		}
		if _, err := tx.Entity(ref); err != nil {
			return err
		}
	}
	return nil
}

// CreatePolicy creates a policy.
func (d *Directory) CreatePolicy(tx *stores.Tx, in PolicyInput) (*model.Policy, error) {
	if err := d.checkPolicy(tx, 0, in); err != nil {
		return nil, err
	}
	p := &model.Policy{
		Name:        in.Name,
		Description: in.Description,
		RoleID:      in.RoleID,
		UserIDs:     slices.Clone(in.UserIDs),
		GroupIDs:    slices.Clone(in.GroupIDs),
		Objects:     slices.Clone(in.Objects),
	}
	tx.Policies.Insert(p)
	d.logger.Info().Int64("policy_id", p.ID).Str("policy", p.Name).Msg("Policy created")
	return p, nil
}

// UpdatePolicy replaces a policy.
func (d *Directory) UpdatePolicy(tx *stores.Tx, id int64, in PolicyInput) (*model.Policy, model.ObjectChanges, error) {
	p, err := tx.Policy(id)
	if err != nil {
		return nil, model.ObjectChanges{}, err
	}
	if p.BuiltIn {
		return nil, model.ObjectChanges{}, model.Conflict(model.ErrCodePolicyCreate,
			"built-in policy %q cannot be changed", p.Name).WithStatus(405)
	}
	if in.Name == "" {
		in.Name = p.Name
	}
	if in.RoleID == 0 {
		in.RoleID = p.RoleID
	}
	if err := d.checkPolicy(tx, id, in); err != nil {
		return nil, model.ObjectChanges{}, err
	}
	before := PolicySnapshot(tx, p)
	p.Name = in.Name
	p.Description = in.Description
	p.RoleID = in.RoleID
	p.UserIDs = slices.Clone(in.UserIDs)
	p.GroupIDs = slices.Clone(in.GroupIDs)
	p.Objects = slices.Clone(in.Objects)
	tx.Policies.Put(p)
	return p, Diff(before, PolicySnapshot(tx, p)), nil
}

// DeletePolicy removes a policy.
func (d *Directory) DeletePolicy(tx *stores.Tx, id int64) (*model.Policy, error) {
	p, err := tx.Policy(id)
	if err != nil {
		return nil, err
	}
	if p.BuiltIn {
		return nil, model.Conflict(model.ErrCodePolicyCreate, "built-in policy %q cannot be deleted", p.Name).WithStatus(405)
	}
	tx.Policies.Delete(id)
	return p, nil
}

// DropObject removes a deleted object from every policy. Policies left without
// objects are deleted; their IDs are returned.
func DropObject(tx *stores.Tx, ref model.Ref) []int64 {
	var emptied []int64
	for _, p := range tx.Policies.Find(func(p *model.Policy) bool { return slices.Contains(p.Objects, ref) }) {
		p.Objects = slices.DeleteFunc(p.Objects, func(o model.Ref) bool { return o == ref })
		if len(p.Objects) == 0 {
			tx.Policies.Delete(p.ID)
			emptied = append(emptied, p.ID)
			continue
		}
		tx.Policies.Put(p)
	}
	return emptied
}
