package crdt

import "fmt"

// Parity selects which causal-length parity marks a row deleted.
//
// A row starts at causal length 0 (never existed). Each lifecycle transition
// moves to the next causal length of the opposite state, so resurrecting a
// row always outranks the deletion it undoes.
type Parity string

const (
	// OddDeleted: odd causal lengths are tombstones; creation goes 0 -> 2.
	OddDeleted Parity = "odd"

	// EvenDeleted: even causal lengths are tombstones; creation goes 0 -> 1.
	// This is the convention of cr-sqlite's clock tables.
	EvenDeleted Parity = "even"
)

// DefaultParity is used when configuration does not choose one.
const DefaultParity = OddDeleted

// ParseParity validates a configured parity name.
func ParseParity(s string) (Parity, error) {
	switch Parity(s) {
	case OddDeleted, EvenDeleted:
		return Parity(s), nil
	case "":
		return DefaultParity, nil
	default:
		return "", fmt.Errorf("invalid tombstone parity %q: must be %q or %q", s, OddDeleted, EvenDeleted)
	}
}

// IsTombstone reports whether a row at causal length cl is deleted.
// Causal length 0 means the row never existed and is neither live nor a
// tombstone; callers check Exists first.
func (p Parity) IsTombstone(cl int64) bool {
	if cl <= 0 {
		return false
	}
	odd := cl%2 == 1
	if p == EvenDeleted {
		return !odd
	}
	return odd
}

// IsLive reports whether a row at causal length cl is visible.
func (p Parity) IsLive(cl int64) bool {
	return cl > 0 && !p.IsTombstone(cl)
}

// NextLive returns the smallest causal length above cl that marks the row live.
func (p Parity) NextLive(cl int64) int64 {
	next := cl + 1
	if !p.IsLive(next) {
		next++
	}
	return next
}

// NextTombstone returns the smallest causal length above cl that marks the row deleted.
func (p Parity) NextTombstone(cl int64) int64 {
	next := cl + 1
	if !p.IsTombstone(next) {
		next++
	}
	return next
}
