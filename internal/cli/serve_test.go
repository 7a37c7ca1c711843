package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/notify"
	"github.com/roach88/rowsync/internal/testutil"
	"github.com/roach88/rowsync/internal/transport"
)

func TestServe(t *testing.T) {
	n := newTestNode(t, 1)
	n.mustRun(t, "put", "todos", "r1", "label=milk")

	ready := make(chan string, 1)
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: n.db},
		Listen:      "127.0.0.1:0",
		NoDiscovery: true,
		Ready:       ready,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}
	base := "http://" + addr

	client := transport.NewClient(base, true, 0)
	info, err := client.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Site(1).String(), info.Site)
	assert.Equal(t, int64(1), info.DBVersion)

	batch, err := client.Changes(ctx, testutil.Site(9), 0)
	require.NoError(t, err)
	assert.Len(t, batch.Changes, 1)

	// The notification hub is mounted.
	watchCtx, stopWatch := context.WithTimeout(ctx, 200*time.Millisecond)
	defer stopWatch()
	err = notify.Watch(watchCtx, base, func(ir.Notice) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, out.String(), "Serving site "+testutil.Site(1).String())
}

func TestServeListenError(t *testing.T) {
	n := newTestNode(t, 1)
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: n.db, Sites: n.opts.Sites},
		Listen:      "256.0.0.1:1",
		NoDiscovery: true,
	}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := runServe(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
