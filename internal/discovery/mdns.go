package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/roach88/rowsync/internal/ir"
)

// txtSiteKey is the TXT record key carrying the advertised site id.
const txtSiteKey = "site="

// browseFunc matches (*zeroconf.Resolver).Browse.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNS browses for peers with multicast DNS service discovery.
type MDNS struct {
	Service string
	Domain  string

	// Self is skipped when it shows up in the results.
	Self ir.SiteID

	browse browseFunc
}

// NewMDNS returns a browser for service in domain; empty strings select the
// defaults.
func NewMDNS(service, domain string, self ir.SiteID) *MDNS {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return &MDNS{Service: service, Domain: domain, Self: self}
}

// Discover browses until timeout or ctx fires and returns the peers seen so far.
func (m *MDNS) Discover(ctx context.Context, timeout time.Duration) ([]ir.PeerEndpoint, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	browse := m.browse
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("mdns resolver: %w", err)
		}
		browse = resolver.Browse
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browse(ctx, m.Service, m.Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse %s: %w", m.Service, err)
	}

	var (
		out  []ir.PeerEndpoint
		seen = map[string]bool{}
	)
	for {
		select {
		case <-ctx.Done():
			return out, nil
		case entry, ok := <-entries:
			if !ok {
				return out, nil
			}
			if entry == nil || seen[entry.Instance] {
				continue
			}
			seen[entry.Instance] = true
			ep := endpointFromEntry(entry)
			if !m.Self.IsZero() && ep.Site == m.Self {
				continue
			}
			slog.Debug("peer discovered", "instance", entry.Instance, "host", ep.Hostname, "port", ep.Port)
			out = append(out, ep)
		}
	}
}

func endpointFromEntry(e *zeroconf.ServiceEntry) ir.PeerEndpoint {
	ep := ir.PeerEndpoint{
		DisplayName: e.Instance,
		Hostname:    strings.TrimSuffix(e.HostName, "."),
		Port:        uint16(e.Port),
	}
	ep.Addresses = append(ep.Addresses, e.AddrIPv4...)
	ep.Addresses = append(ep.Addresses, e.AddrIPv6...)
	for _, txt := range e.Text {
		if rest, ok := strings.CutPrefix(txt, txtSiteKey); ok {
			if site, err := ir.ParseSiteID(rest); err == nil {
				ep.Site = site
			}
		}
	}
	return ep
}

// Announcer advertises the local replica over multicast DNS.
//
// It is a process-wide service object: Start registers the service, Stop
// withdraws it. Both are safe to call more than once.
type Announcer struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Site     ir.SiteID

	mu     sync.Mutex
	server *zeroconf.Server
}

// Start registers the service. A second Start while running is a no-op.
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}
	service, domain := a.Service, a.Domain
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	server, err := zeroconf.Register(a.Instance, service, domain, a.Port,
		[]string{txtSiteKey + a.Site.String(), "proto=" + ir.ProtocolVersion}, nil)
	if err != nil {
		return fmt.Errorf("mdns register %s: %w", a.Instance, err)
	}
	a.server = server
	slog.Info("announcing replica", "instance", a.Instance, "service", service, "port", a.Port, "site", a.Site.Short())
	return nil
}

// Stop withdraws the service.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}
