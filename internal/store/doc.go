// Package store provides the SQLite-backed change log, version cursors, delta
// extraction and merge for one replica.
//
// The store keeps:
//   - change_log: every column change emitted locally or adopted by a merge,
//     append-only, keyed by (db_version, seq)
//   - cells: the current winning record per (table, pk, column)
//   - cursors: per peer, the highest peer db_version merged locally
//   - site_meta: the local site identifier, db_version counter and tombstone parity
//
// # Concurrency
//
// Writes go through a single-connection pool opened with _txlock=immediate,
// so local writes and merges from different peers serialize on the database
// lock, including across processes. Delta extraction and reads use a separate
// pool and observe WAL snapshots.
//
// # Determinism
//
// Every query that returns more than one row orders by a unique key
// (db_version, seq) or (pk, column) so results are identical across runs.
package store
