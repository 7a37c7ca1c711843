package cli

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
	"github.com/roach88/rowsync/internal/testutil"
	"github.com/roach88/rowsync/internal/transport"
)

// servePeer starts an HTTP peer at site b with one row written.
func servePeer(t *testing.T, b byte) (*replica.Replica, string) {
	t.Helper()
	ctx := context.Background()
	r, err := replica.Open(ctx, replica.Options{
		Path:   ":memory:",
		Sites:  testutil.NewSiteSequence(testutil.Site(b)),
		Logger: testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	_, err = r.Put(ctx, "todos", ir.MustEncodePK(ir.String("remote")), map[string]ir.Value{"label": ir.String("from peer")})
	require.NoError(t, err)

	srv := httptest.NewServer((&transport.Server{Replica: r, Logger: testutil.DiscardLogger()}).Handler())
	t.Cleanup(srv.Close)
	return r, srv.URL
}

func TestSyncPullsFromPeer(t *testing.T) {
	remote, url := servePeer(t, 2)
	n := newTestNode(t, 1)
	n.mustRun(t, "put", "todos", "local", "label=mine")

	var results []PeerSyncResult
	decodeData(t, n.mustRun(t, "sync", url, "--format", "json"), &results)
	require.Len(t, results, 1)
	assert.Equal(t, url, results[0].Peer)
	assert.Equal(t, 1, results[0].Applied)
	assert.Equal(t, int64(1), results[0].Cursor)
	assert.Empty(t, results[0].Error)

	out := n.mustRun(t, "rows", "todos")
	assert.Contains(t, out, "from peer")
	assert.Contains(t, out, "mine")

	// Pulling again adopts nothing.
	decodeData(t, n.mustRun(t, "sync", url, "--format", "json"), &results)
	assert.Zero(t, results[0].Applied)

	out = n.mustRun(t, "cursors")
	assert.Contains(t, out, testutil.Site(2).String())

	// The remote has not pulled, so the digests differ until it does.
	var local DigestResult
	decodeData(t, n.mustRun(t, "digest", "--format", "json"), &local)
	remoteDigest, err := remote.Digest(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, remoteDigest, local.Digest)
}

func TestSyncBothWaysConverges(t *testing.T) {
	remote, url := servePeer(t, 2)
	n := newTestNode(t, 1)
	n.mustRun(t, "put", "todos", "local", "label=mine")
	n.mustRun(t, "sync", url)

	// Serve the local database and let the remote pull from it.
	local, err := replica.Open(context.Background(), replica.Options{Path: n.db, Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	srv := httptest.NewServer((&transport.Server{Replica: local, Logger: testutil.DiscardLogger()}).Handler())
	defer srv.Close()

	_, err = remote.Sync(context.Background(), transport.NewClient(srv.URL, true, 0))
	require.NoError(t, err)

	localDigest, err := local.Digest(context.Background())
	require.NoError(t, err)
	remoteDigest, err := remote.Digest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remoteDigest, localDigest)
	require.NoError(t, local.Close())
}

func TestSyncFailures(t *testing.T) {
	n := newTestNode(t, 1)

	_, err := n.run(t, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = n.run(t, "sync", "ftp://example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	srv := httptest.NewServer(nil)
	unreachable := srv.URL
	srv.Close()

	out, err := n.run(t, "sync", unreachable)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, unreachable)
}

func TestSyncUsesConfiguredPeers(t *testing.T) {
	_, url := servePeer(t, 2)
	n := newTestNode(t, 1)

	cfgPath := filepath.Join(t.TempDir(), "rowsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sync:\n  compress: false\n  peers:\n    - "+url+"\n"), 0644))

	var results []PeerSyncResult
	decodeData(t, n.mustRun(t, "sync", "--config", cfgPath, "--format", "json"), &results)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Applied)
}

func TestDiscoverStaticPeers(t *testing.T) {
	n := newTestNode(t, 1)

	cfgPath := filepath.Join(t.TempDir(), "rowsync.yaml")
	cfg := "discovery:\n  enabled: false\nsync:\n  peers:\n    - http://127.0.0.1:7400\n    - http://127.0.0.1:7401\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	out := n.mustRun(t, "discover", "--config", cfgPath, "--timeout", "10ms")
	assert.Contains(t, out, "http://127.0.0.1:7400")
	assert.Contains(t, out, "http://127.0.0.1:7401")

	var eps []ir.PeerEndpoint
	decodeData(t, n.mustRun(t, "discover", "--config", cfgPath, "--format", "json"), &eps)
	assert.Len(t, eps, 2)
}

func TestBadConfig(t *testing.T) {
	n := newTestNode(t, 1)

	cfgPath := filepath.Join(t.TempDir(), "rowsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("tombstone_parity: sideways\n"), 0644))

	_, err := n.run(t, "site", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = n.run(t, "site", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
