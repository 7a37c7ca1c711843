package testutil

import (
	"crypto/sha256"
	"sync"

	"github.com/roach88/rowsync/internal/ir"
)

// Site returns a recognizable site id: b in the first and last byte, zeros
// between. Site(1) < Site(2) in byte order, so tie-breaks are predictable.
func Site(b byte) ir.SiteID {
	return ir.SiteID{b, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, b}
}

// NamedSite derives a stable site id from a replica name.
func NamedSite(name string) ir.SiteID {
	sum := sha256.Sum256([]byte("rowsync-test-site:" + name))
	var site ir.SiteID
	copy(site[:], sum[:16])
	return site
}

// SiteSequence hands out fixed site ids in order, then keeps returning the
// last one.
//
// Thread-safety: safe for concurrent use.
type SiteSequence struct {
	mu    sync.Mutex
	sites []ir.SiteID
	next  int
}

// NewSiteSequence creates a sequence over sites. An empty sequence returns
// Site(1).
func NewSiteSequence(sites ...ir.SiteID) *SiteSequence {
	if len(sites) == 0 {
		sites = []ir.SiteID{Site(1)}
	}
	return &SiteSequence{sites: sites}
}

// Generate returns the next site id. It satisfies replica.SiteGenerator.
func (s *SiteSequence) Generate() (ir.SiteID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site := s.sites[s.next]
	if s.next < len(s.sites)-1 {
		s.next++
	}
	return site, nil
}
