// Package configs implements layered entity configuration: coercion and validation
// of values against prototype schemas, immutable config history, and group configs
// that shadow selected leaves for a subset of hosts.
//
// A config tree holds top-level leaves by name and groups as nested maps. The attr
// tree holds {"active": bool} for activatable groups and, for group configs, the
// group_keys and custom_group_keys mirrors. In both mirrors a top-level leaf maps
// to a bool and a group maps to {"value": bool|null, "fields": {leaf: bool}}.
//
// Every write creates a new ConfigLog and shifts previous <- current, current <- new.
// Writing an owner's config re-synchronizes all of its group configs in the same
// transaction.
package configs
