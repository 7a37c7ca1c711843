package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/rowsync/internal/config"
	"github.com/roach88/rowsync/internal/metrics"
	"github.com/roach88/rowsync/internal/replica"
	"github.com/roach88/rowsync/internal/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // path to rowsync.yaml, optional
	Database string // overrides the configured database

	// Sites overrides site assignment of new databases (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sites replica.SiteGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rowsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rowsync",
		Short: "rowsync - multi-writer row replication",
		Long: `Replicate SQLite tables between peers that all accept writes.

Every column is a last-writer-wins register and every row carries a
causal length, so replicas converge no matter the order in which they
exchange changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewSiteCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewRowsCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewCursorsCommand(opts))
	cmd.AddCommand(NewDigestCommand(opts))
	cmd.AddCommand(NewTodoCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDiscoverCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// session is what every command needs: configuration, a logger and a
// formatter bound to the command's writers.
type session struct {
	opts *RootOptions
	cfg  *config.Config
	log  *slog.Logger
	out  *OutputFormatter
}

// newSession loads the configuration. Daemon commands log at the configured
// level; one-shot commands only log warnings unless --verbose.
func newSession(opts *RootOptions, cmd *cobra.Command, daemon bool) (*session, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	level := slog.LevelWarn
	if daemon {
		level = cfg.Level()
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	return &session{
		opts: opts,
		cfg:  cfg,
		log:  newLogger(cmd.ErrOrStderr(), level),
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// open opens the configured replica, creating the database on first use.
func (s *session) open(ctx context.Context, m metrics.Recorder) (*replica.Replica, error) {
	var sch *schema.Schema
	if s.cfg.Schema != "" {
		loaded, err := schema.LoadFile(s.cfg.Schema)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
		}
		sch = loaded
	}

	s.out.VerboseLog("opening database %s", s.cfg.Database)
	r, err := replica.Open(ctx, replica.Options{
		Path:    s.cfg.Database,
		Schema:  sch,
		Parity:  s.cfg.Parity(),
		Sites:   s.opts.Sites,
		Metrics: m,
		Logger:  s.log,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return r, nil
}

// withReplica runs fn against the configured replica and closes it after.
func withReplica(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session, r *replica.Replica) error) error {
	s, err := newSession(opts, cmd, false)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	r, err := s.open(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			s.log.Error("error closing database", "error", closeErr)
		}
	}()
	return fn(ctx, s, r)
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
