// Package crdt holds the pure conflict-resolution rules of the merge engine.
//
// Every cell (table, pk, column) is an independent last-writer-wins register
// keyed by (column_version, origin_site). Row existence is the register of the
// reserved liveness column, whose version is the row's causal length. A row's
// creation travels in the causal length of its column records; explicit
// liveness records carry deletes and resurrections. Because
// each register reduces over a total order, merging is idempotent,
// commutative and associative; nothing in this package touches storage.
package crdt
