package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
)

// WriteResult is the outcome of put and delete.
type WriteResult struct {
	Table     string `json:"table"`
	PK        string `json:"pk"`
	DBVersion int64  `json:"db_version"`
}

// RowResult is one row as printed by get and rows.
type RowResult struct {
	Table        string              `json:"table"`
	PK           string              `json:"pk"`
	CausalLength int64               `json:"causal_length"`
	Live         bool                `json:"live"`
	Columns      map[string]ir.Value `json:"columns"`
}

// UnmarshalJSON decodes column values with their wire encoding, so JSON
// output of get and rows reads back into a RowResult.
func (r *RowResult) UnmarshalJSON(data []byte) error {
	var w struct {
		Table        string                     `json:"table"`
		PK           string                     `json:"pk"`
		CausalLength int64                      `json:"causal_length"`
		Live         bool                       `json:"live"`
		Columns      map[string]json.RawMessage `json:"columns"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = RowResult{Table: w.Table, PK: w.PK, CausalLength: w.CausalLength, Live: w.Live}
	if w.Columns == nil {
		return nil
	}
	r.Columns = make(map[string]ir.Value, len(w.Columns))
	for col, raw := range w.Columns {
		v, err := ir.UnmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("row %s column %s: %w", w.PK, col, err)
		}
		r.Columns[col] = v
	}
	return nil
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <table> <pk> <column=value>...",
		Short: "Insert or update columns of one row",
		Long: `Write columns of one row as a single local transaction.

Values are read as JSON scalars (true, 42, null, "text"); anything that
does not parse as JSON is taken as a string.

Examples:
  rowsync put todos r1 label=milk done=false
  rowsync put todos r1 'label="42"'`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args[2:])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid column assignment", err)
			}
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				pk := encodePK(args[1])
				v, err := r.Put(ctx, args[0], pk, values)
				if err != nil {
					return failure(s, "put failed", err)
				}
				return reportWrite(s, WriteResult{Table: args[0], PK: args[1], DBVersion: v})
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <table> <pk>",
		Short:         "Delete one row",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				v, err := r.Delete(ctx, args[0], encodePK(args[1]))
				if err != nil {
					return failure(s, "delete failed", err)
				}
				if v == 0 && s.out.Format != "json" {
					return s.out.Success(fmt.Sprintf("%s %s: not live, nothing to delete", args[0], args[1]))
				}
				return reportWrite(s, WriteResult{Table: args[0], PK: args[1], DBVersion: v})
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <pk>",
		Short: "Show one row, deleted or not",
		Long: `Show one row, including deleted rows and their last column values.
Exits 1 when the row has never existed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				row, found, err := r.Get(ctx, args[0], encodePK(args[1]))
				if err != nil {
					return failure(s, "get failed", err)
				}
				if !found {
					if s.out.Format == "json" {
						_ = s.out.Error("E_NOT_FOUND", "row not found", map[string]string{"table": args[0], "pk": args[1]})
					}
					return NewExitError(ExitFailure, fmt.Sprintf("%s %s: row not found", args[0], args[1]))
				}
				res := toRowResult(row)
				if s.out.Format == "json" {
					return s.out.Success(res)
				}
				rows := [][]string{
					{"live", fmt.Sprintf("%t", res.Live)},
					{"causal_length", fmt.Sprintf("%d", res.CausalLength)},
				}
				for _, col := range columnOrder(r, args[0], row) {
					rows = append(rows, []string{col, ir.FormatValue(row.Columns[col])})
				}
				return s.out.Table([]string{"COLUMN", "VALUE"}, rows, res)
			})
		},
	}
}

// NewRowsCommand creates the rows command.
func NewRowsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rows <table>",
		Short:         "List the live rows of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := args[0]
			return withReplica(rootOpts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
				t, ok := r.Schema().Table(table)
				if !ok {
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown table %q", table))
				}
				rows, err := r.Rows(ctx, table)
				if err != nil {
					return failure(s, "rows failed", err)
				}

				results := make([]RowResult, 0, len(rows))
				cols := t.Order
				header := append([]string{"PK", "CL"}, upper(cols)...)
				lines := make([][]string, 0, len(rows))
				for _, row := range rows {
					results = append(results, toRowResult(row))
					line := []string{ir.FormatPK(row.PK), fmt.Sprintf("%d", row.CausalLength)}
					for _, col := range cols {
						v, ok := row.Columns[col]
						if !ok {
							line = append(line, "")
							continue
						}
						line = append(line, ir.FormatValue(v))
					}
					lines = append(lines, line)
				}
				return s.out.Table(header, lines, results)
			})
		},
	}
}

func reportWrite(s *session, res WriteResult) error {
	if s.out.Format == "json" {
		return s.out.Success(res)
	}
	return s.out.Success(fmt.Sprintf("%s %s: db_version %d", res.Table, res.PK, res.DBVersion))
}

// parseAssignments parses column=value arguments.
func parseAssignments(args []string) (map[string]ir.Value, error) {
	values := make(map[string]ir.Value, len(args))
	for _, arg := range args {
		col, raw, ok := strings.Cut(arg, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("%q: expected column=value", arg)
		}
		if _, dup := values[col]; dup {
			return nil, fmt.Errorf("column %q assigned twice", col)
		}
		values[col] = parseValue(raw)
	}
	return values, nil
}

// parseValue reads a JSON scalar, falling back to a plain string.
func parseValue(raw string) ir.Value {
	v, err := ir.UnmarshalValue([]byte(raw))
	if err != nil {
		return ir.String(raw)
	}
	return v
}

func encodePK(id string) []byte {
	return ir.MustEncodePK(ir.String(id))
}

func toRowResult(row ir.Row) RowResult {
	return RowResult{
		Table:        row.Table,
		PK:           ir.FormatPK(row.PK),
		CausalLength: row.CausalLength,
		Live:         row.Live,
		Columns:      row.Columns,
	}
}

// columnOrder lists the row's columns in schema order.
func columnOrder(r *replica.Replica, table string, row ir.Row) []string {
	t, ok := r.Schema().Table(table)
	if !ok {
		return nil
	}
	var out []string
	for _, col := range t.Order {
		if _, present := row.Columns[col]; present {
			out = append(out, col)
		}
	}
	return out
}

func upper(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToUpper(c)
	}
	return out
}
