package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rowsync/internal/ir"
)

// Snapshot renders the trace and the final state of a run as one canonical
// JSON object per line: the scenario header, each trace event, then each
// replica in scenario order. Digests are left out; the converged assertion
// covers them.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	write := func(obj map[string]any) error {
		line, err := ir.MarshalCanonical(obj)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
		return nil
	}

	header := map[string]any{"scenario_name": scenario.Name}
	if scenario.Parity != "" {
		header["parity"] = scenario.Parity
	}
	if err := write(header); err != nil {
		return nil, err
	}

	for _, ev := range result.Trace {
		if err := write(ev.toCanonicalMap()); err != nil {
			return nil, fmt.Errorf("trace seq %d: %w", ev.Seq, err)
		}
	}

	for _, name := range scenario.Replicas {
		state, ok := result.State[name]
		if !ok {
			return nil, fmt.Errorf("no state for replica %s", name)
		}
		if err := write(state.toCanonicalMap(name)); err != nil {
			return nil, fmt.Errorf("state of %s: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

func (e TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{
		"seq":        e.Seq,
		"op":         e.Op,
		"applied":    e.Applied,
		"discarded":  e.Discarded,
		"db_version": e.DBVersion,
	}
	for k, v := range map[string]string{
		"replica": e.Replica,
		"from":    e.From,
		"table":   e.Table,
		"pk":      e.PK,
		"error":   e.Error,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

func (s ReplicaState) toCanonicalMap(name string) map[string]any {
	cursors := make(map[string]any, len(s.Cursors))
	for peer, v := range s.Cursors {
		cursors[peer] = v
	}
	rows := make([]any, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = map[string]any{
			"table":         r.Table,
			"pk":            r.PK,
			"causal_length": r.CausalLength,
			"columns":       r.Columns,
		}
	}
	return map[string]any{
		"replica":    name,
		"db_version": s.DBVersion,
		"cursors":    cursors,
		"rows":       rows,
	}
}

// RunWithGolden executes a scenario, fails the test on any scenario error,
// and compares the snapshot against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		t.Errorf("scenario %s failed:\n%s", scenario.Name, joinErrors(result.Errors))
	}

	snapshot, err := Snapshot(scenario, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
	return result
}

func joinErrors(errs []string) string {
	var buf bytes.Buffer
	for _, e := range errs {
		buf.WriteString("  ")
		buf.WriteString(e)
		buf.WriteByte('\n')
	}
	return buf.String()
}
