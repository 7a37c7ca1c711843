package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/testutil"
)

// fixedSite returns a site whose first byte is b, so tie-breaks are predictable.
func fixedSite(b byte) ir.SiteID { return testutil.Site(b) }

// createTestStore opens a file-backed store in a temp dir with a fixed site.
func createTestStore(t *testing.T, site byte) *Store {
	t.Helper()
	return createTestStoreWithParity(t, site, crdt.DefaultParity)
}

func createTestStoreWithParity(t *testing.T, site byte, parity crdt.Parity) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, Options{
		Parity:  parity,
		NewSite: func() (ir.SiteID, error) { return fixedSite(site), nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// pull performs one pull cycle: dst fetches from src and merges.
func pull(t *testing.T, dst, src *Store) ir.MergeResult {
	t.Helper()
	ctx := context.Background()
	floor, err := dst.CursorFor(ctx, src.Site())
	require.NoError(t, err)
	batch, err := src.ChangesSince(ctx, dst.Site(), floor)
	require.NoError(t, err)
	res, err := dst.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	return res
}

func pk(id string) []byte {
	return ir.MustEncodePK(ir.String(id))
}

func label(t *testing.T, s *Store, id string) ir.Value {
	t.Helper()
	st, found, err := s.CurrentColumnState(context.Background(), "todos", pk(id), "label")
	require.NoError(t, err)
	require.True(t, found)
	return st.Value
}

func digest(t *testing.T, s *Store) string {
	t.Helper()
	rows, err := s.AllRows(context.Background())
	require.NoError(t, err)
	d, err := ir.StateDigest(rows)
	require.NoError(t, err)
	return d
}
