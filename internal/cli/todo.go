package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rowsync/internal/replica"
	"github.com/roach88/rowsync/internal/todos"
)

// NewTodoCommand creates the todo command group, a small application on top
// of the built-in todos table.
func NewTodoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Manage the replicated todo list",
		Long: `Manage the todo list stored in the built-in todos table.

Examples:
  rowsync todo add "buy milk"
  rowsync todo ls
  rowsync todo done 0190c4e2-7f3a-7c1e-9d4b-5a6e7f809102
  rowsync todo rm 0190c4e2-7f3a-7c1e-9d4b-5a6e7f809102`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "add <label>",
		Short:         "Add a todo",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(rootOpts, cmd, func(ctx context.Context, s *session, list *todos.Todos) error {
				t, err := list.Insert(ctx, args[0])
				if err != nil {
					return failure(s, "add failed", err)
				}
				if s.out.Format == "json" {
					return s.out.Success(t)
				}
				return s.out.Success(t.ID)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "ls",
		Short:         "List todos",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(rootOpts, cmd, func(ctx context.Context, s *session, list *todos.Todos) error {
				items, err := list.List(ctx)
				if err != nil {
					return failure(s, "list failed", err)
				}
				rows := make([][]string, 0, len(items))
				for _, t := range items {
					mark := "[ ]"
					if t.Done {
						mark = "[x]"
					}
					rows = append(rows, []string{mark, t.Label, t.ID})
				}
				return s.out.Table([]string{"DONE", "LABEL", "ID"}, rows, items)
			})
		},
	})

	cmd.AddCommand(newTodoMarkCommand(rootOpts, "done <id>", "Mark a todo done", true))
	cmd.AddCommand(newTodoMarkCommand(rootOpts, "undone <id>", "Mark a todo not done", false))

	cmd.AddCommand(&cobra.Command{
		Use:           "rm <id>",
		Short:         "Delete a todo",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(rootOpts, cmd, func(ctx context.Context, s *session, list *todos.Todos) error {
				if err := list.Delete(ctx, args[0]); err != nil {
					return failure(s, "delete failed", err)
				}
				if s.out.Format == "json" {
					return s.out.Success(map[string]string{"id": args[0]})
				}
				return s.out.Success(fmt.Sprintf("deleted %s", args[0]))
			})
		},
	})

	return cmd
}

func newTodoMarkCommand(rootOpts *RootOptions, use, short string, done bool) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTodos(rootOpts, cmd, func(ctx context.Context, s *session, list *todos.Todos) error {
				t, err := list.Get(ctx, args[0])
				if errors.Is(err, todos.ErrNotFound) {
					return NewExitError(ExitFailure, err.Error())
				}
				if err != nil {
					return failure(s, "get failed", err)
				}
				t.Done = done
				if err := list.Update(ctx, t); err != nil {
					return failure(s, "update failed", err)
				}
				if s.out.Format == "json" {
					return s.out.Success(t)
				}
				return s.out.Success(fmt.Sprintf("%s: done=%t", t.ID, t.Done))
			})
		},
	}
}

func withTodos(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session, list *todos.Todos) error) error {
	return withReplica(opts, cmd, func(ctx context.Context, s *session, r *replica.Replica) error {
		if _, ok := r.Schema().Table(todos.Table); !ok {
			return NewExitError(ExitCommandError, "the configured schema has no todos table")
		}
		return fn(ctx, s, todos.New(r))
	})
}
