// Package stores provides the entity graph of the cluster manager and its
// persistence.
//
// The graph is an in-memory arena of records keyed by stable integer IDs, one table
// per record kind. All access goes through transactions: Graph.View for reads and
// Graph.Update for writes. Writers are serialized; a write transaction collects its
// changes in an overlay, runs the registered commit hooks (the concern engine
// recomputes issues there), persists the change set through a Backend in a single
// SQL transaction, and only then merges the overlay into the arena and notifies
// listeners of the change stream.
//
// SQLiteStore is the Backend used in production. It keeps one table per record kind
// holding JSON documents, runs embedded migrations with golang-migrate, and also
// hosts the audit tables used by the audit package.
package stores
