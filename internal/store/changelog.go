package store

import (
	"context"
	"fmt"

	"github.com/roach88/rowsync/internal/ir"
)

// RecordLocalWrite records an upsert of one row.
//
// In one transaction it allocates a new db_version and emits one change per
// touched column with column_version = previous + 1, origin_site = the local
// site and the row's causal length. Columns are emitted in schema declaration
// order. Creating a row logs no liveness change: the column changes carry the
// first live causal length and peers derive liveness from it. Resurrecting a
// deleted row logs an explicit liveness change first. Either every change of
// the write is recorded or none are.
func (s *Store) RecordLocalWrite(ctx context.Context, table string, pk []byte, values map[string]ir.Value) (int64, error) {
	if err := s.schema.ValidateWrite(table, pk, values); err != nil {
		return 0, err
	}
	t, _ := s.schema.Table(table)

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewStorageError("record local write: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	dbVersion, err := allocateDBVersion(ctx, tx)
	if err != nil {
		return 0, ir.NewStorageError("record local write", err)
	}

	cl, err := rowCausalLength(ctx, tx, table, pk)
	if err != nil {
		return 0, ir.NewStorageError("record local write", err)
	}

	var seq int64
	if !s.parity.IsLive(cl) {
		next := s.parity.NextLive(cl)
		live := s.parity.LivenessChange(table, pk, next, s.site)
		live.DBVersion, live.Seq = dbVersion, seq
		if cl == 0 {
			// Creation: the column records below carry the causal length.
			live.OriginSite = ir.ZeroSite
			err = putCell(ctx, tx, live)
		} else {
			err = putChange(ctx, tx, live)
			seq++
		}
		if err != nil {
			return 0, ir.NewStorageError("record local write", err)
		}
		cl = next
	}

	for _, col := range t.Order {
		v, ok := values[col]
		if !ok {
			continue
		}
		prev, _, err := cellState(ctx, tx, table, pk, col)
		if err != nil {
			return 0, ir.NewStorageError("record local write", err)
		}
		c := ir.Change{
			Table:         table,
			PK:            pk,
			Column:        col,
			Value:         v,
			ColumnVersion: prev.ColumnVersion + 1,
			DBVersion:     dbVersion,
			OriginSite:    s.site,
			CausalLength:  cl,
			Seq:           seq,
		}
		if err := putChange(ctx, tx, c); err != nil {
			return 0, ir.NewStorageError("record local write", err)
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return 0, ir.NewStorageError("record local write: commit", err)
	}
	return dbVersion, nil
}

// RecordLocalDelete records the deletion of one row as a single liveness
// change with the next tombstone causal length. Column history is kept so a
// later write can resurrect the row.
//
// Deleting a row that does not exist or is already deleted is a no-op and
// returns db_version 0.
func (s *Store) RecordLocalDelete(ctx context.Context, table string, pk []byte) (int64, error) {
	if _, ok := s.schema.Table(table); !ok {
		return 0, ir.NewSchemaError(table, "", "unknown table")
	}
	if len(pk) == 0 {
		return 0, ir.NewSchemaError(table, "", "primary key must not be empty")
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewStorageError("record local delete: begin tx", err)
	}
	defer tx.Rollback()

	cl, err := rowCausalLength(ctx, tx, table, pk)
	if err != nil {
		return 0, ir.NewStorageError("record local delete", err)
	}
	if !s.parity.IsLive(cl) {
		return 0, nil
	}

	dbVersion, err := allocateDBVersion(ctx, tx)
	if err != nil {
		return 0, ir.NewStorageError("record local delete", err)
	}
	dead := s.parity.LivenessChange(table, pk, s.parity.NextTombstone(cl), s.site)
	dead.DBVersion = dbVersion
	if err := putChange(ctx, tx, dead); err != nil {
		return 0, ir.NewStorageError("record local delete", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, ir.NewStorageError("record local delete: commit", err)
	}
	return dbVersion, nil
}

// rowCausalLength returns the causal length held by the row's liveness cell,
// 0 when the row has never existed.
func rowCausalLength(ctx context.Context, q querier, table string, pk []byte) (int64, error) {
	st, found, err := cellState(ctx, q, table, pk, ir.LivenessColumn)
	if err != nil {
		return 0, fmt.Errorf("row causal length: %w", err)
	}
	if !found {
		return 0, nil
	}
	return st.CausalLength, nil
}
