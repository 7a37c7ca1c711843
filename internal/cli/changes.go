package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	Since int64
	For   string // requester site; its own changes are left out
	Limit int
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Print the delta a peer would receive",
		Long: `Print the change records above a db_version floor, exactly as a peer
pulling with that floor would receive them.

Examples:
  rowsync changes
  rowsync changes --since 12 --for 0190c4e2-7f3a-7c1e-9d4b-5a6e7f809102
  rowsync changes --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Since, "since", 0, "db_version floor (exclusive)")
	cmd.Flags().StringVar(&opts.For, "for", "", "requesting site; its own changes are excluded")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "approximate cap on records (0 = no cap)")

	return cmd
}

func runChanges(opts *ChangesOptions, cmd *cobra.Command) error {
	if opts.Since < 0 {
		return NewExitError(ExitCommandError, "--since must not be negative")
	}
	requester := ir.ZeroSite
	if opts.For != "" {
		site, err := ir.ParseSiteID(opts.For)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --for", err)
		}
		requester = site
	}

	return withReplica(opts.RootOptions, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
		batch, err := r.ChangesSince(ctx, requester, opts.Since, opts.Limit)
		if err != nil {
			return failure(s, "changes failed", err)
		}
		if s.out.Format == "json" {
			return s.out.Success(batch)
		}

		s.out.VerboseLog("from %s since %d through %d", batch.From.Short(), batch.Since, batch.Through)
		rows := make([][]string, 0, len(batch.Changes))
		for _, c := range batch.Changes {
			rows = append(rows, []string{
				fmt.Sprintf("%d", c.DBVersion),
				fmt.Sprintf("%d", c.Seq),
				c.Table,
				ir.FormatPK(c.PK),
				c.Column,
				ir.FormatValue(c.Value),
				fmt.Sprintf("%d", c.ColumnVersion),
				fmt.Sprintf("%d", c.CausalLength),
				c.OriginSite.Short(),
			})
		}
		if err := s.out.Table([]string{"DBV", "SEQ", "TABLE", "PK", "COLUMN", "VALUE", "CV", "CL", "ORIGIN"}, rows, batch); err != nil {
			return err
		}
		fmt.Fprintf(s.out.Writer, "through %d\n", batch.Through)
		return nil
	})
}

// NewCursorsCommand creates the cursors command.
func NewCursorsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cursors",
		Short:         "List the db_version merged from each peer",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				cursors, err := r.Cursors(ctx)
				if err != nil {
					return failure(s, "cursors failed", err)
				}
				rows := make([][]string, 0, len(cursors))
				for _, c := range cursors {
					rows = append(rows, []string{c.Site.String(), fmt.Sprintf("%d", c.DBVersion)})
				}
				if cursors == nil {
					cursors = []ir.Cursor{}
				}
				return s.out.Table([]string{"PEER", "DB_VERSION"}, rows, cursors)
			})
		},
	}
}

// DigestResult is the output of the digest command.
type DigestResult struct {
	Site      string `json:"site"`
	DBVersion int64  `json:"db_version"`
	Digest    string `json:"digest"`
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print a content digest of every live row",
		Long: `Print a digest of the visible rows. Two replicas that have absorbed
the same changes print the same digest, whatever their site or history.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				digest, err := r.Digest(ctx)
				if err != nil {
					return failure(s, "digest failed", err)
				}
				head, err := r.DBVersion(ctx)
				if err != nil {
					return failure(s, "digest failed", err)
				}
				res := DigestResult{Site: r.Site().String(), DBVersion: head, Digest: digest}
				if s.out.Format == "json" {
					return s.out.Success(res)
				}
				return s.out.Success(digest)
			})
		},
	}
}
