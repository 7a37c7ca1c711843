package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingScenario = `name: wrong_expectation
description: Expects a row that was never written
replicas: [a, b]
steps:
  - op: put
    replica: a
    pk: r1
    values: {label: milk}
assertions:
  - type: row_count
    replica: b
    count: 1
`

const passingScenario = `name: simple_pull
description: One row travels from a to b
replicas: [a, b]
steps:
  - op: put
    replica: a
    pk: r1
    values: {label: milk}
  - op: pull
    replica: b
    from: a
assertions:
  - type: converged
`

func TestScenarioCommandRunsHarnessScenarios(t *testing.T) {
	n := newTestNode(t, 1)

	var report ScenarioReport
	decodeData(t, n.mustRun(t, "scenario", "../harness/testdata", "--format", "json"), &report)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, report.Total, report.Passed)
	assert.Zero(t, report.Failed)
}

func TestScenarioCommandFilter(t *testing.T) {
	n := newTestNode(t, 1)

	out := n.mustRun(t, "scenario", "../harness/testdata", "--filter", "scenario*")
	assert.Contains(t, out, "✓ scenario1_insert_a_to_b")
	assert.Contains(t, out, "4 passed, 0 failed, 4 total")
	assert.NotContains(t, out, "commutativity")
}

func TestScenarioCommandFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrong_expectation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(failingScenario), 0644))

	n := newTestNode(t, 1)
	out, err := n.run(t, "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_expectation")
}

func TestScenarioCommandGoldenUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simple_pull.yaml")
	require.NoError(t, os.WriteFile(path, []byte(passingScenario), 0644))
	n := newTestNode(t, 1)

	n.mustRun(t, "scenario", path, "--update")
	golden, err := os.ReadFile(filepath.Join(dir, "golden", "simple_pull.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"simple_pull"`)

	// The fresh golden file matches the next run.
	n.mustRun(t, "scenario", path)

	// A tampered golden file does not.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "simple_pull.golden"), []byte("{}\n"), 0644))
	out, err := n.run(t, "scenario", path)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestScenarioCommandSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simple_pull.yaml")
	require.NoError(t, os.WriteFile(path, []byte(passingScenario), 0644))
	n := newTestNode(t, 1)

	out := n.mustRun(t, "scenario", path, "--snapshot")
	assert.Contains(t, out, `"op":"pull"`)
	assert.Contains(t, out, "✓ simple_pull")
}

func TestScenarioCommandErrors(t *testing.T) {
	n := newTestNode(t, 1)

	_, err := n.run(t, "scenario")
	require.Error(t, err)

	_, err = n.run(t, "scenario", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0644))
	out, err := n.run(t, "scenario", dir)
	require.Error(t, err)
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", "c.txt", "skip.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(dir, "[ab]")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}
