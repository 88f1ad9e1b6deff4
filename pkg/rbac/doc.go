// Package rbac manages users, groups, roles and policies and answers
// authorization queries.
//
// Roles form a DAG: a role grants its own permissions and those of its children.
// A policy binds one role to users and groups over a list of objects; an empty
// list means every object. A permission is "<verb>:<object type>", where either
// part may be "*".
//
// Decisions are made by a Rego module evaluated with OPA. The input carries the
// principal, the requested verb, the object with its ancestors and the policies
// that name the principal, each with its role already expanded to permissions.
// The default module allows superusers everything and other active users what a
// policy in scope permits; NewAuthorizer accepts a replacement module.
//
// Every mutation returns a model.ObjectChanges diff restricted to changed fields,
// with related entities rendered by name: usernames, "<group> [local|ldap]", role
// display names.
package rbac
