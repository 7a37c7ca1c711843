package replica

import (
	"context"

	"github.com/roach88/rowsync/internal/ir"
)

// LocalPeer is a Peer served by a replica in the same process. Used by the
// scenario harness and tests; network peers use transport.Client.
type LocalPeer struct {
	Replica *Replica

	// Limit caps each batch; zero means no cap.
	Limit int
}

// Site returns the replica's site.
func (p LocalPeer) Site(context.Context) (ir.SiteID, error) {
	return p.Replica.Site(), nil
}

// Changes answers the delta request directly from the replica.
func (p LocalPeer) Changes(ctx context.Context, requester ir.SiteID, floor int64) (ir.Batch, error) {
	return p.Replica.ChangesSince(ctx, requester, floor, p.Limit)
}
