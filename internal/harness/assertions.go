package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/rowsync/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluateAssertions checks every assertion against the replicas and the
// snapshot in result. Returns one message per failure.
func (h *Harness) evaluateAssertions(ctx context.Context, result *Result) []string {
	var failures []string
	for i, a := range h.scenario.Assertions {
		var err error
		switch a.Type {
		case AssertConverged:
			err = assertConverged(result.State, h.convergedSet(a))
		case AssertRow:
			err = h.assertRow(ctx, a)
		case AssertRowCount:
			err = assertRowCount(result.State[a.Replica], a)
		case AssertCursor:
			err = assertCursor(result.State[a.Replica], a)
		case AssertDBVersion:
			err = assertDBVersion(result.State[a.Replica], a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) convergedSet(a Assertion) []string {
	if len(a.Replicas) > 0 {
		return a.Replicas
	}
	return h.scenario.Replicas
}

// assertConverged checks that every named replica has the same digest.
func assertConverged(state map[string]ReplicaState, names []string) error {
	digests := make(map[string][]string)
	for _, name := range names {
		d := state[name].Digest
		digests[d] = append(digests[d], name)
	}
	if len(digests) <= 1 {
		return nil
	}

	groups := make([]string, 0, len(digests))
	for d, members := range digests {
		groups = append(groups, fmt.Sprintf("%v=%s", members, shortDigest(d)))
	}
	sort.Strings(groups)
	return &AssertionError{
		Type:     AssertConverged,
		Expected: fmt.Sprintf("identical state on %v", names),
		Actual:   strings.Join(groups, ", "),
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// assertRow checks one row. Live rows are matched on the expected columns
// only; extra columns are ignored.
func (h *Harness) assertRow(ctx context.Context, a Assertion) error {
	table := tableOr(a.Table)
	wantLive := a.Live == nil || *a.Live

	row, found, err := h.replicas[a.Replica].Get(ctx, table, pkFor(a.PK))
	if err != nil {
		return err
	}
	isLive := found && row.Live

	if !wantLive {
		if isLive {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s/%s on %s absent or deleted", table, a.PK, a.Replica),
				Actual:   fmt.Sprintf("live with causal length %d", row.CausalLength),
			}
		}
		return nil
	}
	if !isLive {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("%s/%s live on %s", table, a.PK, a.Replica),
			Actual:   fmt.Sprintf("found=%t causal_length=%d", found, row.CausalLength),
		}
	}

	cols := make([]string, 0, len(a.Expect))
	for col := range a.Expect {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		want, err := ir.FromAny(a.Expect[col])
		if err != nil {
			return fmt.Errorf("expect.%s: %w", col, err)
		}
		got, ok := row.Columns[col]
		if !ok {
			got = ir.Null{}
		}
		if !ir.Equal(want, got) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s/%s.%s on %s = %s", table, a.PK, col, a.Replica, ir.FormatValue(want)),
				Actual:   ir.FormatValue(got),
			}
		}
	}
	return nil
}

func assertRowCount(state ReplicaState, a Assertion) error {
	table := tableOr(a.Table)
	n := 0
	for _, row := range state.Rows {
		if row.Table == table {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d live rows in %s on %s", *a.Count, table, a.Replica),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertCursor(state ReplicaState, a Assertion) error {
	got := state.Cursors[a.Peer]
	if got != *a.DBVersion {
		return &AssertionError{
			Type:     AssertCursor,
			Expected: fmt.Sprintf("cursor of %s for %s = %d", a.Replica, a.Peer, *a.DBVersion),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertDBVersion(state ReplicaState, a Assertion) error {
	if state.DBVersion != *a.DBVersion {
		return &AssertionError{
			Type:     AssertDBVersion,
			Expected: fmt.Sprintf("db_version of %s = %d", a.Replica, *a.DBVersion),
			Actual:   fmt.Sprintf("%d", state.DBVersion),
		}
	}
	return nil
}
