package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/roach88/rowsync/internal/ir"
)

// Default service coordinates.
const (
	DefaultService = "_rowsync._tcp"
	DefaultDomain  = "local."
	DefaultTimeout = 2 * time.Second
)

// Directory lists reachable peers.
//
// Discover returns whatever it has found when the timeout elapses or ctx is
// cancelled, never blocking longer. An error means discovery could not start
// at all; an empty result is not an error.
type Directory interface {
	Discover(ctx context.Context, timeout time.Duration) ([]ir.PeerEndpoint, error)
}

// Static is a fixed peer list, typically from configuration.
type Static []ir.PeerEndpoint

// Discover returns the list unchanged.
func (s Static) Discover(context.Context, time.Duration) ([]ir.PeerEndpoint, error) {
	out := make([]ir.PeerEndpoint, len(s))
	copy(out, s)
	return out, nil
}

// ParseStatic builds a Static directory from base URLs such as
// "http://10.0.0.5:7400".
func ParseStatic(urls []string) (Static, error) {
	out := make(Static, 0, len(urls))
	for _, raw := range urls {
		ep, err := EndpointFromURL(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// EndpointFromURL parses an http base URL into an endpoint.
func EndpointFromURL(raw string) (ir.PeerEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ir.PeerEndpoint{}, fmt.Errorf("peer url %q: %w", raw, err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return ir.PeerEndpoint{}, fmt.Errorf("peer url %q: want http://host:port", raw)
	}
	host, portText, err := net.SplitHostPort(u.Host)
	if err != nil {
		return ir.PeerEndpoint{}, fmt.Errorf("peer url %q: %w", raw, err)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return ir.PeerEndpoint{}, fmt.Errorf("peer url %q: invalid port: %w", raw, err)
	}
	ep := ir.PeerEndpoint{DisplayName: u.Host, Hostname: host, Port: uint16(port)}
	if ip := net.ParseIP(host); ip != nil {
		ep.Addresses = []net.IP{ip}
	}
	return ep, nil
}

// Multi merges several directories. Each is given the full timeout and
// queried concurrently; endpoints are deduplicated by base URL.
type Multi []Directory

// Discover queries every directory and merges the results. An error from one
// directory is returned only if every directory failed.
func (m Multi) Discover(ctx context.Context, timeout time.Duration) ([]ir.PeerEndpoint, error) {
	type result struct {
		eps []ir.PeerEndpoint
		err error
	}
	results := make(chan result, len(m))
	for _, d := range m {
		go func(d Directory) {
			eps, err := d.Discover(ctx, timeout)
			results <- result{eps, err}
		}(d)
	}

	var (
		out     []ir.PeerEndpoint
		seen    = map[string]bool{}
		lastErr error
		failed  int
	)
	for range m {
		r := <-results
		if r.err != nil {
			lastErr = r.err
			failed++
			continue
		}
		for _, ep := range r.eps {
			if key := ep.BaseURL(); !seen[key] {
				seen[key] = true
				out = append(out, ep)
			}
		}
	}
	if len(m) > 0 && failed == len(m) {
		return nil, lastErr
	}
	return out, nil
}
