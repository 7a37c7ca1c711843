package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/rowsync/internal/ir"
)

// Path is where the hub is mounted.
const Path = "/v1/notify"

// URLFor converts a peer's http base URL into its notification websocket URL.
func URLFor(baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + Path
}

// Watch connects to a peer's hub and calls fn for every notice until ctx
// ends or the connection drops. Malformed messages are skipped.
func Watch(ctx context.Context, baseURL string, fn func(ir.Notice)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, URLFor(baseURL), http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial notifications %s: %w", baseURL, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read notifications %s: %w", baseURL, err)
		}
		var n ir.Notice
		if err := json.Unmarshal(msg, &n); err != nil || n.Type != ir.NoticeTypeChanges {
			continue
		}
		fn(n)
	}
}

// Follow keeps a Watch running against baseURL, reconnecting after retry
// whenever the connection drops, until ctx ends.
func Follow(ctx context.Context, baseURL string, retry time.Duration, log *slog.Logger, fn func(ir.Notice)) {
	if log == nil {
		log = slog.Default()
	}
	for {
		err := Watch(ctx, baseURL, fn)
		if ctx.Err() != nil {
			return
		}
		log.Debug("notification stream ended", "peer", baseURL, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
