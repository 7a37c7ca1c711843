package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/rowsync/internal/discovery"
	"github.com/roach88/rowsync/internal/ir"
)

// Peer is the remote end of the pull protocol.
type Peer interface {
	// Site returns the peer's site identifier.
	Site(ctx context.Context) (ir.SiteID, error)

	// Changes requests the peer's changes above floor, excluding those that
	// originated at requester.
	Changes(ctx context.Context, requester ir.SiteID, floor int64) (ir.Batch, error)
}

// maxPullRounds bounds the requests of one Sync against a peer that caps
// its batches.
const maxPullRounds = 1000

// Sync performs one pull cycle against peer: read the cursor, request the
// delta above it, merge. A batch marked More is followed by another request
// from the new cursor; an uncut batch ends the pull. Bidirectional sync is two pulls, one on each side.
func (r *Replica) Sync(ctx context.Context, peer Peer) (ir.MergeResult, error) {
	_, res, err := r.sync(ctx, peer)
	return res, err
}

// sync is Sync that also reports the peer's site.
func (r *Replica) sync(ctx context.Context, peer Peer) (ir.SiteID, ir.MergeResult, error) {
	site, res, err := r.pull(ctx, peer)
	r.metrics.Pull(err)
	return site, res, err
}

func (r *Replica) pull(ctx context.Context, peer Peer) (ir.SiteID, ir.MergeResult, error) {
	var total ir.MergeResult

	site, err := peer.Site(ctx)
	if err != nil {
		return site, total, err
	}
	if site == r.Site() {
		return site, total, ir.NewTransportError(site, "peer is this replica", nil)
	}

	for round := 0; round < maxPullRounds; round++ {
		floor, err := r.CursorFor(ctx, site)
		if err != nil {
			return site, total, err
		}
		batch, err := peer.Changes(ctx, r.Site(), floor)
		if err != nil {
			return site, total, err
		}
		if batch.From != site {
			return site, total, ir.NewTransportError(site,
				fmt.Sprintf("batch claims to be from %s", batch.From.Short()), nil)
		}

		res, err := r.ApplyBatch(ctx, batch)
		if err != nil {
			return site, total, err
		}
		total.Applied += res.Applied
		total.Discarded += res.Discarded
		total.Cursor = res.Cursor
		if res.DBVersion > 0 {
			total.DBVersion = res.DBVersion
		}

		if !batch.More || batch.Through <= floor {
			break
		}
	}

	r.log.Info("pulled from peer",
		"peer", site.Short(),
		"applied", total.Applied,
		"discarded", total.Discarded,
		"cursor", total.Cursor,
	)
	return site, total, nil
}

// Dialer turns a discovered endpoint into a Peer.
type Dialer func(ep ir.PeerEndpoint) Peer

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	// Interval between periodic pull cycles. Zero disables the ticker.
	Interval time.Duration

	// Directory, when set, is consulted at the start of every full cycle and
	// new endpoints are dialed with Dial.
	Directory        discovery.Directory
	DiscoveryTimeout time.Duration
	Dial             Dialer

	// Parallel bounds concurrent pulls in one cycle. Defaults to 4.
	Parallel int

	// ForgetAfter drops a peer found through Directory once this many pulls
	// in a row have failed; discovery re-adds it when it answers again.
	// Peers added with AddPeer are never dropped. Zero disables dropping.
	ForgetAfter int

	Logger *slog.Logger
}

type peerEntry struct {
	peer       Peer
	site       ir.SiteID // learned on the first successful pull
	discovered bool
	failures   int
}

// Syncer runs pull cycles for a replica.
//
// All pulls happen in the Run goroutine (fanned out per cycle); other
// goroutines only enqueue hints.
type Syncer struct {
	replica *Replica
	opts    SyncerOptions
	log     *slog.Logger
	queue   *hintQueue

	mu    sync.Mutex
	peers map[string]*peerEntry
}

// NewSyncer creates a Syncer for r.
func NewSyncer(r *Replica, opts SyncerOptions) *Syncer {
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = discovery.DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = r.log
	}
	return &Syncer{
		replica: r,
		opts:    opts,
		log:     log,
		queue:   newHintQueue(),
		peers:   make(map[string]*peerEntry),
	}
}

// AddPeer registers a peer under key (usually its base URL). Re-adding a key
// keeps the existing entry.
func (s *Syncer) AddPeer(key string, p Peer) bool {
	return s.addPeer(key, &peerEntry{peer: p})
}

func (s *Syncer) addPeer(key string, e *peerEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[key]; ok {
		return false
	}
	s.peers[key] = e
	return true
}

// RemovePeer forgets a peer.
func (s *Syncer) RemovePeer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, key)
}

// Peers returns the registered peer keys in sorted order.
func (s *Syncer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.peers))
	for k := range s.peers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Hint requests a pull cycle. Safe from any goroutine. Returns false once the
// Syncer has stopped.
func (s *Syncer) Hint(h Hint) bool {
	return s.queue.Enqueue(h)
}

// Stop ends Run.
func (s *Syncer) Stop() {
	s.queue.Close()
}

// Run processes hints until ctx is cancelled or Stop is called. A full cycle
// runs at start and on every tick.
//
// Pull failures are logged and treated as "no new information"; the next
// hint or tick retries.
func (s *Syncer) Run(ctx context.Context) error {
	s.log.Info("syncer starting", "interval", s.opts.Interval)
	s.queue.Enqueue(Hint{Reason: HintTick})

	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if hints := s.queue.Drain(); len(hints) > 0 {
			s.process(ctx, hints)
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Info("syncer stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-tick:
			s.queue.Enqueue(Hint{Reason: HintTick})

		case <-s.queue.Wait():
			// A stale token from hints already drained also lands here.
			if s.queue.isClosed() && s.queue.Len() == 0 {
				s.log.Info("syncer stopping: queue closed")
				return nil
			}
		}
	}
}

// process coalesces a run of hints into one cycle.
func (s *Syncer) process(ctx context.Context, hints []Hint) {
	targets := map[string]bool{}
	for _, h := range hints {
		if h.targetsAll() {
			if err := s.SyncAll(ctx, h.Reason != HintNotification); err != nil {
				s.log.Warn("sync cycle aborted", "error", err)
			}
			return
		}
		key, ok := s.resolve(h)
		if !ok {
			// Unknown peer: fall back to a full cycle.
			if err := s.SyncAll(ctx, true); err != nil {
				s.log.Warn("sync cycle aborted", "error", err)
			}
			return
		}
		targets[key] = true
	}

	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if err := s.pullAll(ctx, keys); err != nil {
		s.log.Warn("sync cycle aborted", "error", err)
	}
}

func (s *Syncer) resolve(h Hint) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Key != "" {
		_, ok := s.peers[h.Key]
		return h.Key, ok
	}
	for key, e := range s.peers {
		if e.site == h.Site {
			return key, true
		}
	}
	return "", false
}

// SyncAll runs one full cycle: optionally refresh peers from the directory,
// then pull from every known peer concurrently. Individual peer failures are
// logged, not returned; the error is non-nil only when ctx ends.
func (s *Syncer) SyncAll(ctx context.Context, discover bool) error {
	if discover && s.opts.Directory != nil && s.opts.Dial != nil {
		s.Discover(ctx)
	}
	return s.pullAll(ctx, s.Peers())
}

// Discover refreshes the peer set from the directory and returns the number
// of new peers.
func (s *Syncer) Discover(ctx context.Context) int {
	if s.opts.Directory == nil || s.opts.Dial == nil {
		return 0
	}
	eps, err := s.opts.Directory.Discover(ctx, s.opts.DiscoveryTimeout)
	if err != nil {
		s.log.Warn("discovery failed", "error", err)
		return 0
	}
	self := s.replica.Site()
	added := 0
	for _, ep := range eps {
		if ep.Site == self {
			continue
		}
		if s.addPeer(ep.BaseURL(), &peerEntry{peer: s.opts.Dial(ep), discovered: true}) {
			added++
			s.log.Info("peer added", "peer", ep.DisplayName, "url", ep.BaseURL())
		}
	}
	return added
}

func (s *Syncer) pullAll(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)

	for _, key := range keys {
		key := key
		s.mu.Lock()
		entry, ok := s.peers[key]
		s.mu.Unlock()
		if !ok {
			continue
		}
		g.Go(func() error {
			site, res, err := s.replica.sync(gctx, entry.peer)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.log.Warn("pull failed", "peer", key, "error", err)
				s.pullFailed(key, entry)
				return nil
			}
			s.mu.Lock()
			entry.site = site
			entry.failures = 0
			s.mu.Unlock()
			s.log.Debug("pull done", "peer", key, "applied", res.Applied, "cursor", res.Cursor)
			return nil
		})
	}
	return g.Wait()
}

// pullFailed counts a failed pull and drops a discovered peer that keeps
// failing.
func (s *Syncer) pullFailed(key string, entry *peerEntry) {
	s.mu.Lock()
	entry.failures++
	forget := entry.discovered && s.opts.ForgetAfter > 0 && entry.failures >= s.opts.ForgetAfter
	failures := entry.failures
	s.mu.Unlock()

	if forget {
		s.RemovePeer(key)
		s.log.Info("peer forgotten", "peer", key, "failures", failures)
	}
}
