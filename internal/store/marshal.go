package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rowsync/internal/ir"
)

// encodeValue converts a Value to its JSON wire form for a TEXT column.
func encodeValue(v ir.Value) (string, error) {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// decodeValue parses a stored TEXT value.
func decodeValue(data string) (ir.Value, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanChange reads one change_log row selected with changeColumns.
func scanChange(row scanner) (ir.Change, error) {
	var (
		c      ir.Change
		val    string
		origin []byte
	)
	if err := row.Scan(&c.DBVersion, &c.Seq, &c.Table, &c.PK, &c.Column, &val,
		&c.ColumnVersion, &origin, &c.CausalLength); err != nil {
		return ir.Change{}, fmt.Errorf("scan change: %w", err)
	}
	v, err := decodeValue(val)
	if err != nil {
		return ir.Change{}, err
	}
	site, err := ir.SiteIDFromBytes(origin)
	if err != nil {
		return ir.Change{}, err
	}
	c.Value, c.OriginSite = v, site
	return c, nil
}

const changeColumns = `db_version, seq, tbl, pk, col, val, col_version, origin_site, causal_length`

// cellState loads the current winner of one cell. found is false when the
// cell has never been written.
func cellState(ctx context.Context, q querier, table string, pk []byte, column string) (ir.ColumnState, bool, error) {
	var (
		st     ir.ColumnState
		val    string
		origin []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT val, col_version, origin_site, db_version, causal_length
		FROM cells
		WHERE tbl = ? AND pk = ? AND col = ?
	`, table, pk, column).Scan(&val, &st.ColumnVersion, &origin, &st.DBVersion, &st.CausalLength)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ColumnState{}, false, nil
	}
	if err != nil {
		return ir.ColumnState{}, false, fmt.Errorf("load cell: %w", err)
	}
	if st.Value, err = decodeValue(val); err != nil {
		return ir.ColumnState{}, false, err
	}
	if st.OriginSite, err = ir.SiteIDFromBytes(origin); err != nil {
		return ir.ColumnState{}, false, err
	}
	return st, true, nil
}

// putChange records c as the winner of its cell and appends it to the log.
// c.DBVersion and c.Seq must already carry the local allocation.
func putChange(ctx context.Context, q querier, c ir.Change) error {
	val, err := encodeValue(c.Value)
	if err != nil {
		return err
	}
	origin := c.OriginSite.Bytes()

	if _, err := q.ExecContext(ctx, `
		INSERT INTO change_log (`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.DBVersion, c.Seq, c.Table, c.PK, c.Column, val, c.ColumnVersion, origin, c.CausalLength); err != nil {
		return fmt.Errorf("append change: %w", err)
	}

	return putCell(ctx, q, c)
}

// putCell records c as the winner of its cell without logging it.
func putCell(ctx context.Context, q querier, c ir.Change) error {
	val, err := encodeValue(c.Value)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO cells (tbl, pk, col, val, col_version, origin_site, db_version, causal_length)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tbl, pk, col) DO UPDATE SET
			val = excluded.val,
			col_version = excluded.col_version,
			origin_site = excluded.origin_site,
			db_version = excluded.db_version,
			causal_length = excluded.causal_length
	`, c.Table, c.PK, c.Column, val, c.ColumnVersion, c.OriginSite.Bytes(), c.DBVersion, c.CausalLength); err != nil {
		return fmt.Errorf("update cell: %w", err)
	}
	return nil
}

// allocateDBVersion bumps the local head and returns the new db_version.
func allocateDBVersion(ctx context.Context, q querier) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, `
		UPDATE site_meta SET db_version = db_version + 1 WHERE id = 1
		RETURNING db_version
	`).Scan(&v); err != nil {
		return 0, fmt.Errorf("allocate db_version: %w", err)
	}
	return v, nil
}
