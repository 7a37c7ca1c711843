// Package replica is the process-wide service object of one replica.
//
// A Replica wraps the store with the application-facing operations (Put,
// Delete, Get, Rows), the replication operations (ChangesSince, ApplyBatch,
// cursors) and commit notices. Sync performs one pull cycle against a Peer;
// Syncer runs pull cycles in a single goroutine driven by hints from
// discovery, peer notifications and a periodic ticker.
//
// Thread-safety model:
//   - Replica methods: safe from any goroutine; writes serialize in the store
//   - Syncer.Hint / AddPeer: safe from any goroutine
//   - Syncer.Run: must be called from exactly one goroutine
package replica
