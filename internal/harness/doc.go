// Package harness runs replication scenarios against in-process replicas.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: concurrent_update
//	description: "Both sides edit the same cell; the larger site wins"
//	parity: odd
//	replicas: [a, b]
//	steps:
//	  - op: put
//	    replica: a
//	    pk: r1
//	    values: { label: milk, done: false }
//	  - op: pull
//	    replica: b
//	    from: a
//	    expect: { applied: 3 }
//	  - op: exchange
//	assertions:
//	  - type: converged
//	  - type: row
//	    replica: b
//	    pk: r1
//	    expect: { label: milk }
//
// # Operations
//
//   - put: write columns of one row on a replica (creates or resurrects it)
//   - delete: delete one row on a replica
//   - pull: replica pulls from another (one Sync cycle, optional limit)
//   - redeliver: replica re-applies the source's changes above "since",
//     bypassing its own cursor; used for idempotence and monotonicity checks
//   - apply: replica merges a hand-built batch from another site
//   - exchange: every replica pulls from every other until a full round
//     adopts nothing
//
// # Assertion Types
//
//   - converged: the listed replicas (default all) have identical state digests
//   - row: a row is live (subset match on columns) or, with live: false, absent
//   - row_count: number of live rows in a table
//   - cursor: a replica's cursor for a peer
//   - db_version: a replica's head db_version
//
// # Deterministic Testing
//
// Replica i (zero based, in the order of the replicas list) gets site
// testutil.Site(i+1), so later replicas win equal-version ties. Every
// replica is an in-memory database. The trace and the final state are
// therefore byte-identical across runs and are compared against golden
// files in testdata/golden.
package harness
