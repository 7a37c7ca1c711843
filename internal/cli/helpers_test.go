package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rowsync/internal/testutil"
)

// testNode is a database path plus the options that assign its site.
type testNode struct {
	opts *RootOptions
	db   string
}

func newTestNode(t *testing.T, site byte) testNode {
	t.Helper()
	return testNode{
		opts: &RootOptions{Sites: testutil.NewSiteSequence(testutil.Site(site))},
		db:   filepath.Join(t.TempDir(), "replica.db"),
	}
}

// run executes one rowsync invocation against the node's database.
func (n testNode) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(n.opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--db", n.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// mustRun is run that fails the test on error.
func (n testNode) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := n.run(t, args...)
	require.NoError(t, err, "output: %s", out)
	return out
}

// decodeData unmarshals the data field of a JSON response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status, "output: %s", out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
