// Package testutil holds deterministic fixtures shared by tests and the
// scenario harness: fixed site ids, a logical sequence and a silent logger.
package testutil
