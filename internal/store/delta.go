package store

import (
	"context"
	"database/sql"

	"github.com/roach88/rowsync/internal/ir"
)

// ChangesSince returns every stored change with db_version > floor whose
// origin is not requester, ordered by (db_version, seq).
//
// The batch's Through is the local db_version head read in the same snapshot
// as the changes, so a requester that merges the batch may advance its cursor
// for this site to Through. Nothing is mutated.
func (s *Store) ChangesSince(ctx context.Context, requester ir.SiteID, floor int64) (ir.Batch, error) {
	return s.ChangesSinceLimit(ctx, requester, floor, 0)
}

// ChangesSinceLimit is ChangesSince capped at roughly limit changes. The cap
// only cuts between db_versions, never inside one, so a single large write
// can exceed it; Through is then the last db_version included and More is
// set. limit <= 0 means no cap.
func (s *Store) ChangesSinceLimit(ctx context.Context, requester ir.SiteID, floor int64, limit int) (ir.Batch, error) {
	batch := ir.Batch{From: s.site, Since: floor, Changes: []ir.Change{}}

	tx, err := s.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return ir.Batch{}, ir.NewStorageError("changes since: begin tx", err)
	}
	defer tx.Rollback()

	var head int64
	if err := tx.QueryRowContext(ctx, `SELECT db_version FROM site_meta WHERE id = 1`).Scan(&head); err != nil {
		return ir.Batch{}, ir.NewStorageError("changes since: head", err)
	}
	batch.Through = max(head, floor)

	rs, err := tx.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM change_log
		WHERE db_version > ? AND origin_site != ?
		ORDER BY db_version ASC, seq ASC
	`, floor, requester.Bytes())
	if err != nil {
		return ir.Batch{}, ir.NewStorageError("changes since", err)
	}
	defer rs.Close()

	for rs.Next() {
		c, err := scanChange(rs)
		if err != nil {
			return ir.Batch{}, ir.NewStorageError("changes since", err)
		}
		if limit > 0 && len(batch.Changes) >= limit {
			last := batch.Changes[len(batch.Changes)-1].DBVersion
			if c.DBVersion != last {
				batch.Through = last
				batch.More = true
				break
			}
		}
		batch.Changes = append(batch.Changes, c)
	}
	if err := rs.Err(); err != nil {
		return ir.Batch{}, ir.NewStorageError("changes since", err)
	}
	return batch, nil
}
