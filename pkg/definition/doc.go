// Package definition holds the immutable description of what a bundle declares:
// prototypes of clusters, services, components, providers and hosts, their actions,
// config schemas, imports, exports and upgrades.
//
// A definition is produced from bundle YAML documents by Load, checked against the
// CUE document schema and struct rules, and then treated as pure data by every other
// package. Upgrades and config migrations compare two definitions as snapshots.
package definition
