package replica

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/rowsync/internal/ir"
)

// SiteGenerator assigns the identifier of a new replica.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type SiteGenerator interface {
	Generate() (ir.SiteID, error)
}

// UUIDv7Generator generates time-sortable UUIDv7 site identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7.
func (UUIDv7Generator) Generate() (ir.SiteID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ir.ZeroSite, fmt.Errorf("generate site id: %w", err)
	}
	return ir.SiteID(id), nil
}

// FixedGenerator returns predetermined site identifiers for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu    sync.Mutex
	sites []ir.SiteID
	idx   int
}

// NewFixedGenerator creates a generator that returns sites in order.
func NewFixedGenerator(sites ...ir.SiteID) *FixedGenerator {
	return &FixedGenerator{sites: sites}
}

// Generate returns the next predetermined site, or an error once all have
// been handed out.
func (g *FixedGenerator) Generate() (ir.SiteID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.sites) {
		return ir.ZeroSite, fmt.Errorf("FixedGenerator: all sites exhausted")
	}
	site := g.sites[g.idx]
	g.idx++
	return site, nil
}
