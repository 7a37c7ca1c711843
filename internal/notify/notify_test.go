package notify

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/testutil"
)

func discardLogger() *slog.Logger { return testutil.DiscardLogger() }

func TestURLFor(t *testing.T) {
	assert.Equal(t, "ws://10.0.0.5:7400/v1/notify", URLFor("http://10.0.0.5:7400"))
	assert.Equal(t, "ws://h:1/v1/notify", URLFor("http://h:1/"))
	assert.Equal(t, "wss://h:1/v1/notify", URLFor("https://h:1"))
}

func TestHubDeliversNotices(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ir.Notice, 4)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- Watch(ctx, srv.URL, func(n ir.Notice) { got <- n })
	}()

	require.Eventually(t, func() bool { return hub.Listeners() == 1 }, 5*time.Second, 10*time.Millisecond)

	site := ir.SiteID{0x0a}
	hub.Broadcast(ir.Notice{Type: ir.NoticeTypeChanges, Site: site, DBVersion: 7})

	select {
	case n := <-got:
		assert.Equal(t, site, n.Site)
		assert.Equal(t, int64(7), n.DBVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("notice not delivered")
	}

	cancel()
	select {
	case err := <-watchErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	require.Eventually(t, func() bool { return hub.Listeners() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubCloseEndsWatch(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- Watch(context.Background(), srv.URL, func(ir.Notice) {})
	}()
	require.Eventually(t, func() bool { return hub.Listeners() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Close()
	select {
	case <-watchErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after hub close")
	}
	hub.Broadcast(ir.Notice{Type: ir.NoticeTypeChanges}) // no listeners, no panic
}

func TestForward(t *testing.T) {
	hub := NewHub(discardLogger())
	ch, ok := hub.register()
	require.True(t, ok)

	src := make(chan ir.Notice, 1)
	src <- ir.Notice{Type: ir.NoticeTypeChanges, DBVersion: 3}
	close(src)
	hub.Forward(context.Background(), src)

	n := <-ch
	assert.Equal(t, int64(3), n.DBVersion)
}

func TestWatchUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := Watch(ctx, "http://127.0.0.1:1", func(ir.Notice) {})
	assert.Error(t, err)
}
