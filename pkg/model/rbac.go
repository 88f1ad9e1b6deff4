package model

import (
	"slices"
	"time"
)

// OriginType tells local accounts from directory-synchronized ones.
type OriginType string

const (
	OriginLocal OriginType = "local"
	OriginLDAP  OriginType = "ldap"
)

// User is an account that may authenticate and hold policies.
type User struct {
	ID                  int64      `json:"id"`
	Username            string     `json:"username" validate:"required,min=1,max=150"`
	FirstName           string     `json:"first_name" validate:"max=150"`
	LastName            string     `json:"last_name" validate:"max=150"`
	Email               string     `json:"email" validate:"omitempty,email"`
	PasswordHash        string     `json:"password_hash"`
	IsSuperuser         bool       `json:"is_superuser"`
	IsActive            bool       `json:"is_active"`
	BuiltIn             bool       `json:"built_in"`
	Type                OriginType `json:"type"`
	GroupIDs            []int64    `json:"group_ids"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	BlockedAt           time.Time  `json:"blocked_at"`
	LastLogin           time.Time  `json:"last_login"`
}

func (u *User) GetID() int64   { return u.ID }
func (u *User) SetID(id int64) { u.ID = id }
func (u *User) Clone() *User {
	n := *u
	n.GroupIDs = slices.Clone(u.GroupIDs)
	return &n
}

// Group is a set of users sharing policies.
type Group struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name" validate:"required,min=1,max=150"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	BuiltIn     bool       `json:"built_in"`
	Type        OriginType `json:"type"`
}

func (g *Group) GetID() int64   { return g.ID }
func (g *Group) SetID(id int64) { g.ID = id }
func (g *Group) Clone() *Group {
	n := *g
	return &n
}

// CanonicalName renders the group the way object-change diffs show it.
func (g *Group) CanonicalName() string {
	name := g.DisplayName
	if name == "" {
		name = g.Name
	}
	return name + " [" + string(g.Type) + "]"
}

// RoleType classifies roles.
type RoleType string

const (
	RoleBusiness RoleType = "business"
	RoleRole     RoleType = "role"
	RoleHidden   RoleType = "hidden"
)

// Role is a node of the role DAG carrying permissions.
type Role struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name" validate:"required,min=1,max=1000"`
	DisplayName    string       `json:"display_name" validate:"required,min=1,max=1000"`
	Description    string       `json:"description"`
	BuiltIn        bool         `json:"built_in"`
	Type           RoleType     `json:"type"`
	Categories     []string     `json:"categories"`
	ParametrizedBy []ObjectType `json:"parametrized_by"`
	ChildIDs       []int64      `json:"child_ids"`
	Permissions    []string     `json:"permissions"`
}

func (r *Role) GetID() int64   { return r.ID }
func (r *Role) SetID(id int64) { r.ID = id }
func (r *Role) Clone() *Role {
	n := *r
	n.Categories = slices.Clone(r.Categories)
	n.ParametrizedBy = slices.Clone(r.ParametrizedBy)
	n.ChildIDs = slices.Clone(r.ChildIDs)
	n.Permissions = slices.Clone(r.Permissions)
	return &n
}

// Policy binds a role to users and groups over a list of objects.
type Policy struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name" validate:"required,min=1,max=1000"`
	Description string  `json:"description"`
	BuiltIn     bool    `json:"built_in"`
	RoleID      int64   `json:"role_id"`
	UserIDs     []int64 `json:"user_ids"`
	GroupIDs    []int64 `json:"group_ids"`
	Objects     []Ref   `json:"objects"`
}

func (p *Policy) GetID() int64   { return p.ID }
func (p *Policy) SetID(id int64) { p.ID = id }
func (p *Policy) Clone() *Policy {
	n := *p
	n.UserIDs = slices.Clone(p.UserIDs)
	n.GroupIDs = slices.Clone(p.GroupIDs)
	n.Objects = slices.Clone(p.Objects)
	return &n
}

// Principal is an authenticated caller.
type Principal struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	IsSuperuser bool   `json:"is_superuser"`
}

// System is the principal used for internal mutations such as runner callbacks.
var System = Principal{Username: "system", IsSuperuser: true}
