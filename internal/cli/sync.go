package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rowsync/internal/discovery"
	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
	"github.com/roach88/rowsync/internal/transport"
)

// PeerSyncResult is the outcome of pulling from one peer.
type PeerSyncResult struct {
	Peer      string `json:"peer"`
	Applied   int    `json:"applied"`
	Discarded int    `json:"discarded"`
	Cursor    int64  `json:"cursor"`
	Error     string `json:"error,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [peer-url...]",
		Short: "Pull changes from peers once",
		Long: `Pull every change the local replica has not yet merged from each peer.

Sync is one-directional: to exchange both ways, run sync on the other
replica too (or let both run serve). Without arguments the peers listed
in the config file are used.

Exit codes:
  0 - Every peer was pulled
  1 - At least one peer failed
  2 - Command error (no peers, bad database)

Examples:
  rowsync sync http://10.0.0.5:7400
  rowsync sync --format json http://a:7400 http://b:7400`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				peers := args
				if len(peers) == 0 {
					peers = s.cfg.Sync.Peers
				}
				if len(peers) == 0 {
					return NewExitError(ExitCommandError, "no peers given and none configured")
				}
				return runSync(ctx, s, r, peers)
			})
		},
	}
}

func runSync(ctx context.Context, s *session, r *replica.Replica, peers []string) error {
	results := make([]PeerSyncResult, 0, len(peers))
	failed := 0
	for _, url := range peers {
		if _, err := discovery.EndpointFromURL(url); err != nil {
			return WrapExitError(ExitCommandError, "invalid peer", err)
		}
		client := transport.NewClient(url, s.cfg.Sync.IsCompressed(), s.cfg.Sync.BatchLimit)
		s.out.VerboseLog("pulling from %s", client.BaseURL)

		res, err := r.Sync(ctx, client)
		pr := PeerSyncResult{
			Peer:      client.BaseURL,
			Applied:   res.Applied,
			Discarded: res.Discarded,
			Cursor:    res.Cursor,
		}
		if err != nil {
			pr.Error = err.Error()
			failed++
		}
		results = append(results, pr)
	}

	if s.out.Format == "json" {
		if err := s.out.Success(results); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(results))
		for _, pr := range results {
			status := "ok"
			if pr.Error != "" {
				status = pr.Error
			}
			rows = append(rows, []string{
				pr.Peer,
				fmt.Sprintf("%d", pr.Applied),
				fmt.Sprintf("%d", pr.Discarded),
				fmt.Sprintf("%d", pr.Cursor),
				status,
			})
		}
		if err := s.out.Table([]string{"PEER", "APPLIED", "DISCARDED", "CURSOR", "STATUS"}, rows, results); err != nil {
			return err
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d peers failed", failed, len(peers)))
	}
	return nil
}

// DiscoverOptions holds flags for the discover command.
type DiscoverOptions struct {
	*RootOptions
	Timeout time.Duration
}

// NewDiscoverCommand creates the discover command.
func NewDiscoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiscoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List reachable peers",
		Long: `Browse the local network for replicas over multicast DNS and list them
together with the statically configured peers. Browsing stops when the
timeout elapses; whatever was found by then is printed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				return runDiscover(ctx, opts, s, r.Site())
			})
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "browse time (default from config)")

	return cmd
}

func runDiscover(ctx context.Context, opts *DiscoverOptions, s *session, self ir.SiteID) error {
	dir, err := directoryFor(s, self)
	if err != nil {
		return err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Discovery.Timeout.Std()
	}

	s.out.VerboseLog("browsing for %s", timeout)
	eps, err := dir.Discover(ctx, timeout)
	if err != nil {
		return WrapExitError(ExitFailure, "discovery failed", err)
	}
	if eps == nil {
		eps = []ir.PeerEndpoint{}
	}

	rows := make([][]string, 0, len(eps))
	for _, ep := range eps {
		site := "unknown"
		if !ep.Site.IsZero() {
			site = ep.Site.String()
		}
		rows = append(rows, []string{ep.DisplayName, ep.BaseURL(), site})
	}
	return s.out.Table([]string{"NAME", "URL", "SITE"}, rows, eps)
}

// directoryFor combines the configured static peers with mDNS browsing
// when discovery is enabled.
func directoryFor(s *session, self ir.SiteID) (discovery.Directory, error) {
	static, err := discovery.ParseStatic(s.cfg.Sync.Peers)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configured peer", err)
	}
	dirs := discovery.Multi{static}
	if s.cfg.Discovery.IsEnabled() {
		dirs = append(dirs, discovery.NewMDNS(s.cfg.Discovery.Service, s.cfg.Discovery.Domain, self))
	}
	return dirs, nil
}
