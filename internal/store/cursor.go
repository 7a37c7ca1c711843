package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rowsync/internal/ir"
)

// CursorFor returns the highest db_version of peer already merged locally,
// 0 when the peer has never been synced.
func (s *Store) CursorFor(ctx context.Context, peer ir.SiteID) (int64, error) {
	v, err := loadCursor(ctx, s.readDB, peer)
	if err != nil {
		return 0, ir.NewStorageError("cursor for", err)
	}
	return v, nil
}

// AdvanceCursor moves the cursor for peer to floor. Moving it backward fails
// with a monotonicity error and leaves the cursor unchanged; re-applying the
// stored value is accepted.
func (s *Store) AdvanceCursor(ctx context.Context, peer ir.SiteID, floor int64) error {
	if peer.IsZero() {
		return ir.NewSchemaError("", "", "cursor site must be set")
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return ir.NewStorageError("advance cursor: begin tx", err)
	}
	defer tx.Rollback()

	stored, err := loadCursor(ctx, tx, peer)
	if err != nil {
		return ir.NewStorageError("advance cursor", err)
	}
	if floor < stored {
		return ir.NewMonotonicityError(peer, stored, floor, "cursor cannot move backward")
	}
	if err := storeCursor(ctx, tx, peer, floor); err != nil {
		return ir.NewStorageError("advance cursor", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.NewStorageError("advance cursor: commit", err)
	}
	return nil
}

// Cursors lists every known peer cursor ordered by site bytes.
func (s *Store) Cursors(ctx context.Context) ([]ir.Cursor, error) {
	rs, err := s.readDB.QueryContext(ctx, `
		SELECT site_id, db_version FROM cursors ORDER BY site_id ASC
	`)
	if err != nil {
		return nil, ir.NewStorageError("list cursors", err)
	}
	defer rs.Close()

	cursors := []ir.Cursor{}
	for rs.Next() {
		var (
			raw []byte
			c   ir.Cursor
		)
		if err := rs.Scan(&raw, &c.DBVersion); err != nil {
			return nil, ir.NewStorageError("list cursors", err)
		}
		if c.Site, err = ir.SiteIDFromBytes(raw); err != nil {
			return nil, ir.NewStorageError("list cursors", err)
		}
		cursors = append(cursors, c)
	}
	if err := rs.Err(); err != nil {
		return nil, ir.NewStorageError("list cursors", err)
	}
	return cursors, nil
}

func loadCursor(ctx context.Context, q querier, peer ir.SiteID) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, `SELECT db_version FROM cursors WHERE site_id = ?`, peer.Bytes()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return v, nil
}

func storeCursor(ctx context.Context, q querier, peer ir.SiteID, floor int64) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO cursors (site_id, db_version) VALUES (?, ?)
		ON CONFLICT(site_id) DO UPDATE SET db_version = excluded.db_version
	`, peer.Bytes(), floor); err != nil {
		return fmt.Errorf("store cursor: %w", err)
	}
	return nil
}
