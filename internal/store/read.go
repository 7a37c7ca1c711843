package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/rowsync/internal/ir"
)

// CurrentColumnState returns the authoritative state of one cell. found is
// false when the cell has never been written locally or by a merge.
func (s *Store) CurrentColumnState(ctx context.Context, table string, pk []byte, column string) (ir.ColumnState, bool, error) {
	st, found, err := cellState(ctx, s.readDB, table, pk, column)
	if err != nil {
		return ir.ColumnState{}, false, ir.NewStorageError("current column state", err)
	}
	return st, found, nil
}

// Row returns the state of one row, deleted or not. found is false when no
// cell of the row exists.
func (s *Store) Row(ctx context.Context, table string, pk []byte) (ir.Row, bool, error) {
	rows, err := s.readRows(ctx, `
		SELECT pk, col, val, causal_length
		FROM cells
		WHERE tbl = ? AND pk = ?
		ORDER BY col COLLATE BINARY ASC
	`, table, table, pk)
	if err != nil {
		return ir.Row{}, false, ir.NewStorageError("read row", err)
	}
	if len(rows) == 0 {
		return ir.Row{}, false, nil
	}
	return rows[0], true, nil
}

// Rows returns the live rows of a table ordered by primary-key bytes.
// Returns an empty slice (not nil) when the table has no live rows.
func (s *Store) Rows(ctx context.Context, table string) ([]ir.Row, error) {
	all, err := s.readRows(ctx, `
		SELECT pk, col, val, causal_length
		FROM cells
		WHERE tbl = ?
		ORDER BY pk ASC, col COLLATE BINARY ASC
	`, table, table)
	if err != nil {
		return nil, ir.NewStorageError("read rows", err)
	}
	live := make([]ir.Row, 0, len(all))
	for _, r := range all {
		if r.Live {
			live = append(live, r)
		}
	}
	return live, nil
}

// readRows groups cells into rows. The query must order by pk.
func (s *Store) readRows(ctx context.Context, query, table string, args ...any) ([]ir.Row, error) {
	rs, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}
	defer rs.Close()

	var (
		out []ir.Row
		cur *ir.Row
	)
	for rs.Next() {
		var (
			pk  []byte
			col string
			val string
			cl  int64
		)
		if err := rs.Scan(&pk, &col, &val, &cl); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		if cur == nil || !bytes.Equal(cur.PK, pk) {
			out = append(out, ir.Row{Table: table, PK: pk, Columns: map[string]ir.Value{}})
			cur = &out[len(out)-1]
		}
		if col == ir.LivenessColumn {
			cur.CausalLength = cl
			cur.Live = s.parity.IsLive(cl)
			continue
		}
		v, err := decodeValue(val)
		if err != nil {
			return nil, err
		}
		cur.Columns[col] = v
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return out, nil
}

// AllRows returns the live rows of every schema table, ordered by table
// name then primary key.
func (s *Store) AllRows(ctx context.Context) ([]ir.Row, error) {
	var out []ir.Row
	for _, table := range s.schema.Tables() {
		rows, err := s.Rows(ctx, table)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Log returns the complete change log ordered by (db_version, seq).
// Intended for inspection and tests; replication uses ChangesSince.
func (s *Store) Log(ctx context.Context) ([]ir.Change, error) {
	rs, err := s.readDB.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_log
		ORDER BY db_version ASC, seq ASC
	`)
	if err != nil {
		return nil, ir.NewStorageError("read log", err)
	}
	defer rs.Close()

	changes := []ir.Change{}
	for rs.Next() {
		c, err := scanChange(rs)
		if err != nil {
			return nil, ir.NewStorageError("read log", err)
		}
		changes = append(changes, c)
	}
	if err := rs.Err(); err != nil {
		return nil, ir.NewStorageError("read log", err)
	}
	return changes, nil
}
