// Package mapping maintains the host-component mapping of clusters.
//
// A mapping is replaced as a whole. The new set is checked against, in order:
// duplicate entries, hosts and components foreign to the cluster, services required
// by added services, component requires and bound_to rules, component host count
// constraints, and hosts in maintenance mode. The first failing rule decides the
// error. On success the previous and new sets are diffed and group config members
// that lost their mapping are dropped.
package mapping
