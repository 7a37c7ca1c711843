package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rowsync/internal/discovery"
	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/metrics"
	"github.com/roach88/rowsync/internal/notify"
	"github.com/roach88/rowsync/internal/replica"
	"github.com/roach88/rowsync/internal/transport"
)

// followRetry is the pause before reconnecting a dropped notification stream.
const followRetry = 5 * time.Second

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen      string
	NoDiscovery bool
	MaxLimit    int

	// Ready receives the listen address once the server accepts
	// connections (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the replica and keep it in sync with peers",
		Long: `Run a replica node: answer delta requests over HTTP, push commit
notices over websocket, announce the replica over multicast DNS, and pull
from every known peer on a timer, on discovery, and whenever a peer
announces new changes.

Example:
  rowsync serve --config rowsync.yaml
  rowsync serve --db ./laptop.db --listen 0.0.0.0:7400`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoDiscovery, "no-discovery", false, "disable mDNS announce and browse")
	cmd.Flags().IntVar(&opts.MaxLimit, "max-limit", 0, "cap on the batch size peers may request (0 = no cap)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	cfg := s.cfg
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	discover := cfg.Discovery.IsEnabled() && !opts.NoDiscovery
	log := s.log

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	m := metrics.New()
	r, err := s.open(ctx, m)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	static, err := discovery.ParseStatic(cfg.Sync.Peers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configured peer", err)
	}

	hub := notify.NewHub(log)
	srv := &transport.Server{
		Replica:  r,
		Hub:      hub,
		Metrics:  m.Handler(),
		MaxLimit: opts.MaxLimit,
		Logger:   log,
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if discover {
		announcer := &discovery.Announcer{
			Instance: cfg.Name,
			Service:  cfg.Discovery.Service,
			Domain:   cfg.Discovery.Domain,
			Port:     addr.Port,
			Site:     r.Site(),
		}
		if err := announcer.Start(); err != nil {
			// Static peers still work without multicast.
			log.Warn("mdns announce failed", "error", err)
		}
		defer announcer.Stop()
	}

	compress, limit := cfg.Sync.IsCompressed(), cfg.Sync.BatchLimit
	f := &follower{ctx: ctx, log: log, metrics: m, started: map[string]bool{}}

	syncerOpts := replica.SyncerOptions{
		Interval:         cfg.Sync.Interval.Std(),
		ForgetAfter:      cfg.Sync.ForgetAfter,
		DiscoveryTimeout: cfg.Discovery.Timeout.Std(),
		Logger:           log,
		Dial: func(ep ir.PeerEndpoint) replica.Peer {
			f.follow(ep.BaseURL())
			return transport.NewClient(ep.BaseURL(), compress, limit)
		},
	}
	if discover {
		syncerOpts.Directory = discovery.NewMDNS(cfg.Discovery.Service, cfg.Discovery.Domain, r.Site())
	}
	syncer := replica.NewSyncer(r, syncerOpts)
	f.syncer = syncer

	for _, ep := range static {
		url := ep.BaseURL()
		syncer.AddPeer(url, transport.NewClient(url, compress, limit))
		f.follow(url)
	}

	notices, unsubscribe := r.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return syncer.Run(gctx)
	})
	g.Go(func() error {
		hub.Forward(gctx, notices)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Info("replica serving", "addr", addr.String(), "site", r.Site().Short(), "peers", len(static), "discovery", discover)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving site %s on http://%s\n", r.Site(), addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.Ready != nil {
		opts.Ready <- addr.String()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "serve error", err)
	}

	log.Info("replica stopped gracefully")
	return nil
}

// follower keeps one notification stream per peer URL open and turns every
// notice into a targeted pull hint.
type follower struct {
	ctx     context.Context
	log     *slog.Logger
	metrics *metrics.Metrics
	syncer  *replica.Syncer

	mu      sync.Mutex
	started map[string]bool
}

func (f *follower) follow(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started[url] {
		return
	}
	f.started[url] = true
	f.log.Debug("following peer notifications", "peer", url)

	go notify.Follow(f.ctx, url, followRetry, f.log, func(n ir.Notice) {
		f.metrics.Notification()
		f.syncer.Hint(replica.Hint{Reason: replica.HintNotification, Key: url, Site: n.Site})
	})
}
