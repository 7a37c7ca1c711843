package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name and scenario name differ")

			RunWithGolden(t, scenario)
		})
	}
}

func TestScenarios_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "delete_and_resurrect.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.State["a"].Digest, second.State["b"].Digest)
}

func TestRun_StepExpectationFailures(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "every expectation is wrong"
replicas: [a, b]
steps:
  - op: put
    replica: a
    pk: r1
    values: { label: milk }
  - op: pull
    replica: b
    from: a
    expect: { applied: 7 }
  - op: pull
    replica: b
    from: a
    expect: { error: SCHEMA_VIOLATION }
  - op: apply
    replica: b
    from: a
    since: 9
    through: 10
    changes:
      - { pk: r1, column: label, value: x, column_version: 1, db_version: 10, causal_length: 2 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected 7 applied, got 1")
	assert.Contains(t, result.Errors[1], "expected error SCHEMA_VIOLATION, got success")
	assert.Contains(t, result.Errors[2], "unexpected error")
	assert.Equal(t, "MONOTONICITY_VIOLATION", result.Trace[3].Error)
}

func TestRun_AssertionFailures(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_assertions
description: "every assertion is wrong"
replicas: [a, b]
steps:
  - op: put
    replica: a
    pk: r1
    values: { label: milk, done: false }
assertions:
  - type: converged
  - type: row
    replica: a
    pk: r1
    expect: { label: eggs }
  - type: row
    replica: a
    pk: r1
    live: false
  - type: row
    replica: b
    pk: r1
  - type: row_count
    replica: a
    count: 2
  - type: cursor
    replica: b
    peer: a
    db_version: 1
  - type: db_version
    replica: a
    db_version: 5
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 7)
	assert.Contains(t, result.Errors[0], "Assertion failed: converged")
	assert.Contains(t, result.Errors[1], "Actual: milk")
	assert.Contains(t, result.Errors[2], "absent or deleted")
	assert.Contains(t, result.Errors[3], "found=false")
	assert.Contains(t, result.Errors[4], "2 live rows")
	assert.Contains(t, result.Errors[5], "cursor of b for a = 1")
	assert.Contains(t, result.Errors[6], "db_version of a = 5")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := "name: x\ndescription: y\nreplicas: [a, b]\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", base + "stepz: []\n", "stepz"},
		{"missing name", "description: y\nreplicas: [a]\nsteps: [{op: exchange}]\n", "name is required"},
		{"no replicas", "name: x\ndescription: y\nsteps: [{op: exchange}]\n", "replicas list is required"},
		{"duplicate replica", "name: x\ndescription: y\nreplicas: [a, a]\nsteps: [{op: exchange}]\n", "duplicate name"},
		{"no steps", base, "steps list is required"},
		{"bad parity", base + "parity: sideways\nsteps: [{op: exchange}]\n", "invalid tombstone parity"},
		{"unknown op", base + "steps: [{op: teleport}]\n", "unknown op"},
		{"unknown replica", base + "steps: [{op: delete, replica: z, pk: r1}]\n", `unknown replica "z"`},
		{"self pull", base + "steps: [{op: pull, replica: a, from: a}]\n", "cannot pull from itself"},
		{"put without values", base + "steps: [{op: put, replica: a, pk: r1}]\n", "pk and values are required"},
		{"apply without changes", base + "steps: [{op: apply, replica: a, from: b}]\n", "changes are required"},
		{"unknown assertion", base + "steps: [{op: exchange}]\nassertions: [{type: vibes}]\n", "unknown assertion type"},
		{"cursor without peer", base + "steps: [{op: exchange}]\nassertions: [{type: cursor, replica: a, db_version: 1}]\n", "unknown peer"},
		{"row_count without count", base + "steps: [{op: exchange}]\nassertions: [{type: row_count, replica: a}]\n", "count is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
