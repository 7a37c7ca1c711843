// Package todos is the todo list application built on a replica.
package todos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
)

// Table is the replicated table todos live in.
const Table = "todos"

// ErrNotFound is returned for ids with no live row.
var ErrNotFound = errors.New("todo not found")

// Todo is one item of the list.
type Todo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Todos is the todo list of one replica.
type Todos struct {
	replica *replica.Replica
	newID   func() (string, error)
}

// New returns the todo list backed by r.
func New(r *replica.Replica) *Todos {
	return &Todos{replica: r, newID: newV7ID}
}

func newV7ID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate todo id: %w", err)
	}
	return id.String(), nil
}

// PK encodes a todo id as a row primary key.
func PK(id string) []byte {
	return ir.MustEncodePK(ir.String(id))
}

// Insert adds a new todo and returns it with its generated id.
func (l *Todos) Insert(ctx context.Context, label string) (Todo, error) {
	id, err := l.newID()
	if err != nil {
		return Todo{}, err
	}
	t := Todo{ID: id, Label: label}
	if err := l.put(ctx, t); err != nil {
		return Todo{}, err
	}
	return t, nil
}

// Put writes a todo under a caller-chosen id, creating or resurrecting it.
func (l *Todos) Put(ctx context.Context, t Todo) error {
	if t.ID == "" {
		return errors.New("todo id is required")
	}
	return l.put(ctx, t)
}

func (l *Todos) put(ctx context.Context, t Todo) error {
	_, err := l.replica.Put(ctx, Table, PK(t.ID), map[string]ir.Value{
		"id":    ir.String(t.ID),
		"label": ir.String(t.Label),
		"done":  ir.Bool(t.Done),
	})
	return err
}

// Update changes the label and done flag of an existing todo. Only columns
// whose values differ are written.
func (l *Todos) Update(ctx context.Context, t Todo) error {
	cur, err := l.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	values := make(map[string]ir.Value, 2)
	if cur.Label != t.Label {
		values["label"] = ir.String(t.Label)
	}
	if cur.Done != t.Done {
		values["done"] = ir.Bool(t.Done)
	}
	if len(values) == 0 {
		return nil
	}
	_, err = l.replica.Put(ctx, Table, PK(t.ID), values)
	return err
}

// Delete removes a todo. Deleting an absent todo is not an error.
func (l *Todos) Delete(ctx context.Context, id string) error {
	_, err := l.replica.Delete(ctx, Table, PK(id))
	return err
}

// Get returns the live todo with id.
func (l *Todos) Get(ctx context.Context, id string) (Todo, error) {
	row, found, err := l.replica.Get(ctx, Table, PK(id))
	if err != nil {
		return Todo{}, err
	}
	if !found || !row.Live {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromRow(row)
}

// List returns every live todo ordered by primary key. UUIDv7 ids make that
// creation order.
func (l *Todos) List(ctx context.Context) ([]Todo, error) {
	rows, err := l.replica.Rows(ctx, Table)
	if err != nil {
		return nil, err
	}
	out := make([]Todo, 0, len(rows))
	for _, row := range rows {
		t, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func fromRow(row ir.Row) (Todo, error) {
	parts, err := ir.DecodePK(row.PK)
	if err != nil {
		return Todo{}, err
	}
	if len(parts) != 1 {
		return Todo{}, fmt.Errorf("todo primary key has %d parts", len(parts))
	}
	id, ok := parts[0].(ir.String)
	if !ok {
		return Todo{}, fmt.Errorf("todo primary key is %s, not text", parts[0].Kind())
	}
	t := Todo{ID: string(id)}
	if v, ok := row.Columns["label"].(ir.String); ok {
		t.Label = string(v)
	}
	if v, ok := row.Columns["done"].(ir.Bool); ok {
		t.Done = bool(v)
	}
	return t, nil
}
