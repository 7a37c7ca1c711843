// Package discovery finds peer replicas on the local network.
//
// Results are hints. A discovered peer is only ever used to start a pull
// cycle, so stale or missing entries cost a wasted or delayed sync, never
// correctness.
package discovery
