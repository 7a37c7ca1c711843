package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
)

// SiteResult describes the local replica.
type SiteResult struct {
	Site      string   `json:"site"`
	Database  string   `json:"database"`
	Parity    string   `json:"parity"`
	DBVersion int64    `json:"db_version"`
	Tables    []string `json:"tables"`
	Peers     int      `json:"peers"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the replica database",
		Long: `Create the replica database and assign its site identifier.

The site identifier and tombstone parity are fixed when the database is
created; running init again only reports them.

Example:
  rowsync init --db ./laptop.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				info, err := siteInfo(ctx, s, r)
				if err != nil {
					return err
				}
				if s.out.Format == "json" {
					return s.out.Success(info)
				}
				return s.out.Success(fmt.Sprintf("Initialized %s (site %s, parity %s)", info.Database, info.Site, info.Parity))
			})
		},
	}
}

// NewSiteCommand creates the site command.
func NewSiteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "site",
		Short:         "Show the local site identifier and head",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				info, err := siteInfo(ctx, s, r)
				if err != nil {
					return err
				}
				if s.out.Format == "json" {
					return s.out.Success(info)
				}
				rows := [][]string{
					{"site", info.Site},
					{"database", info.Database},
					{"parity", info.Parity},
					{"db_version", fmt.Sprintf("%d", info.DBVersion)},
					{"tables", fmt.Sprintf("%v", info.Tables)},
					{"peers", fmt.Sprintf("%d", info.Peers)},
				}
				return s.out.Table([]string{"KEY", "VALUE"}, rows, info)
			})
		},
	}
}

func siteInfo(ctx context.Context, s *session, r *replica.Replica) (SiteResult, error) {
	head, err := r.DBVersion(ctx)
	if err != nil {
		return SiteResult{}, WrapExitError(ExitFailure, "failed to read db_version", err)
	}
	cursors, err := r.Cursors(ctx)
	if err != nil {
		return SiteResult{}, WrapExitError(ExitFailure, "failed to read cursors", err)
	}
	return SiteResult{
		Site:      r.Site().String(),
		Database:  s.cfg.Database,
		Parity:    string(r.Parity()),
		DBVersion: head,
		Tables:    r.Schema().Tables(),
		Peers:     len(cursors),
	}, nil
}

// failure converts a replica error into an ExitError, keeping the
// replication error code for JSON output.
func failure(s *session, message string, err error) error {
	code := "E_FAILURE"
	if re, ok := asReplicationError(err); ok {
		code = string(re.Code)
	}
	if s.out.Format == "json" {
		_ = s.out.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	}
	return WrapExitError(ExitFailure, message, err)
}

func asReplicationError(err error) (*ir.ReplicationError, bool) {
	var re *ir.ReplicationError
	ok := errors.As(err, &re)
	return re, ok
}
