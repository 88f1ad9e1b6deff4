// Package model defines the runtime entity graph of the cluster manager: clusters,
// services, components, providers and hosts, together with their configs, group
// configs, host-component mappings, concerns, tasks and RBAC records.
//
// Every record carries a stable integer ID and refers to related records by ID only.
// Parent edges therefore form a forest that is walked through the stores package,
// never through pointers.
package model
