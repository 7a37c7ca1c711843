package store

import (
	"context"
	"fmt"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
)

// ApplyBatch merges a batch of remote changes.
//
// Every change is validated against the schema before anything is written;
// one violation rejects the whole batch. The merge then runs in a single
// transaction: each change that strictly beats the current cell (by
// column_version, then origin site bytes) overwrites it and is appended to
// the log under one fresh local db_version, keeping its origin site, column
// version, causal length and value. Losing and tied changes are no-ops.
// An adopted column change whose causal length is a newer live length than
// the row's liveness cell raises the cell to it, which is how a row created
// elsewhere becomes live here.
//
// When batch.From is set the sender's cursor is checked and advanced to
// batch.Through in the same transaction. A batch starting above the cursor
// (a gap) or ending below it fails with a monotonicity error. Anonymous
// batches leave cursors alone.
func (s *Store) ApplyBatch(ctx context.Context, batch ir.Batch) (ir.MergeResult, error) {
	var result ir.MergeResult

	if err := s.schema.ValidateBatch(batch.Changes, s.parity); err != nil {
		return result, err
	}
	if err := checkBatchRange(batch); err != nil {
		return result, err
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return result, ir.NewStorageError("apply batch: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if !batch.From.IsZero() {
		stored, err := loadCursor(ctx, tx, batch.From)
		if err != nil {
			return result, ir.NewStorageError("apply batch", err)
		}
		if batch.Since > stored {
			return result, ir.NewMonotonicityError(batch.From, stored, batch.Since,
				fmt.Sprintf("batch starts after db_version %d but only %d was merged", batch.Since, stored))
		}
		if batch.Through < stored {
			return result, ir.NewMonotonicityError(batch.From, stored, batch.Through,
				"batch would move the cursor backward")
		}
	}

	var seq int64
	for _, c := range batch.Changes {
		cur, _, err := cellState(ctx, tx, c.Table, c.PK, c.Column)
		if err != nil {
			return result, ir.NewStorageError("apply batch", err)
		}
		if !crdt.Wins(crdt.VersionOf(c), crdt.StateVersion(cur)) {
			result.Discarded++
			continue
		}

		if result.DBVersion == 0 {
			if result.DBVersion, err = allocateDBVersion(ctx, tx); err != nil {
				return result, ir.NewStorageError("apply batch", err)
			}
		}
		adopted := c
		adopted.DBVersion, adopted.Seq = result.DBVersion, seq
		if err := putChange(ctx, tx, adopted); err != nil {
			return result, ir.NewStorageError("apply batch", err)
		}
		if !adopted.IsLiveness() {
			if err := s.advanceLiveness(ctx, tx, adopted); err != nil {
				return result, ir.NewStorageError("apply batch", err)
			}
		}
		seq++
		result.Applied++
	}

	if !batch.From.IsZero() {
		if err := storeCursor(ctx, tx, batch.From, batch.Through); err != nil {
			return result, ir.NewStorageError("apply batch", err)
		}
		result.Cursor = batch.Through
	}

	if err := ctx.Err(); err != nil {
		return ir.MergeResult{}, ir.NewStorageError("apply batch: cancelled", err)
	}
	if err := tx.Commit(); err != nil {
		return ir.MergeResult{}, ir.NewStorageError("apply batch: commit", err)
	}
	return result, nil
}

// advanceLiveness raises the row's liveness cell to the causal length of an
// adopted column change. The cell moves without a log entry; peers pulling
// from here learn the length from the logged column change. Derived cells
// carry no origin, so replicas that derive the same length hold the same
// cell whichever column change arrived first.
func (s *Store) advanceLiveness(ctx context.Context, q querier, c ir.Change) error {
	cl, err := rowCausalLength(ctx, q, c.Table, c.PK)
	if err != nil {
		return err
	}
	if !s.parity.AdvancesLiveness(c.CausalLength, cl) {
		return nil
	}
	live := s.parity.LivenessChange(c.Table, c.PK, c.CausalLength, ir.ZeroSite)
	live.DBVersion = c.DBVersion
	return putCell(ctx, q, live)
}

// checkBatchRange rejects batches whose changes fall outside (Since, Through].
func checkBatchRange(batch ir.Batch) error {
	if batch.From.IsZero() {
		return nil
	}
	if batch.Through < batch.Since {
		return ir.NewMonotonicityError(batch.From, batch.Since, batch.Through, "batch through is below since")
	}
	for _, c := range batch.Changes {
		if c.DBVersion <= batch.Since || c.DBVersion > batch.Through {
			return ir.NewMonotonicityError(batch.From, batch.Through, c.DBVersion,
				fmt.Sprintf("change db_version %d outside batch range (%d, %d]", c.DBVersion, batch.Since, batch.Through))
		}
	}
	return nil
}
