// Package concerns tracks locks, issues and flags on entities.
//
// A concern is owned by one entity and attached to a closure of related entities:
//
//   - issues reach the owner and its ancestors up to the cluster or provider root; a
//     host also reaches the components and services it is mapped to and their
//     cluster, while provider issues never enter clusters
//   - locks reach the issue closure plus, for a component, its mapped hosts, for a
//     service, its components, for a cluster, every object in it, and for a
//     provider, its hosts
//   - flags stay on their owner
//
// Automatic issues (config, required service, required import, host-component) are
// re-evaluated in a commit hook after every write transaction, so evaluation is
// idempotent and never fails the write that triggered it.
package concerns
