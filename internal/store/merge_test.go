package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowsync/internal/ir"
)

func write(t *testing.T, s *Store, id string, values map[string]ir.Value) {
	t.Helper()
	_, err := s.RecordLocalWrite(context.Background(), "todos", pk(id), values)
	require.NoError(t, err)
}

func TestApplyBatch_InsertPropagates(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X"), "done": ir.Bool(false)})

	res := pull(t, b, a)
	assert.Equal(t, 2, res.Applied)
	assert.Zero(t, res.Discarded)
	assert.Equal(t, int64(1), res.DBVersion)
	assert.Equal(t, int64(1), res.Cursor)

	assert.Equal(t, ir.String("X"), label(t, b, "r1"))
	st, _, err := b.CurrentColumnState(ctx, "todos", pk("r1"), "label")
	require.NoError(t, err)
	assert.Equal(t, a.Site(), st.OriginSite, "adopted changes keep their origin")
	assert.Equal(t, int64(1), st.ColumnVersion)

	row, found, err := b.Row(ctx, "todos", pk("r1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, row.Live, "the column changes carry the row's creation")
	assert.Equal(t, int64(2), row.CausalLength)

	cursor, err := b.CursorFor(ctx, a.Site())
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
	assert.Equal(t, digest(t, a), digest(t, b))
}

func TestApplyBatch_Idempotent(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})

	batch, err := a.ChangesSince(ctx, b.Site(), 0)
	require.NoError(t, err)

	first, err := b.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	before := digest(t, b)
	headBefore, err := b.DBVersion(ctx)
	require.NoError(t, err)

	second, err := b.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, first.Applied, second.Discarded)
	assert.Zero(t, second.Applied)
	assert.Zero(t, second.DBVersion, "a batch that adopts nothing allocates no db_version")

	headAfter, err := b.DBVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, headBefore, headAfter)
	assert.Equal(t, before, digest(t, b))
}

func TestApplyBatch_ConflictTieBreak(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})
	pull(t, b, a)

	// Concurrent edits: both at column_version 2.
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("A-edit")})
	write(t, b, "r1", map[string]ir.Value{"label": ir.String("B-edit")})

	pull(t, a, b)
	pull(t, b, a)

	// Site 2 sorts after site 1, so B wins on both replicas.
	assert.Equal(t, ir.String("B-edit"), label(t, a, "r1"))
	assert.Equal(t, ir.String("B-edit"), label(t, b, "r1"))
	assert.Equal(t, digest(t, a), digest(t, b))

	st, _, err := a.CurrentColumnState(ctx, "todos", pk("r1"), "label")
	require.NoError(t, err)
	assert.Equal(t, b.Site(), st.OriginSite)
	assert.Equal(t, int64(2), st.ColumnVersion)
}

func TestApplyBatch_HigherVersionWins(t *testing.T) {
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})
	pull(t, b, a)
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("Y")})
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("Z")})
	write(t, b, "r1", map[string]ir.Value{"label": ir.String("B")})

	pull(t, a, b)
	pull(t, b, a)

	assert.Equal(t, ir.String("Z"), label(t, a, "r1"))
	assert.Equal(t, ir.String("Z"), label(t, b, "r1"))
}

func TestApplyBatch_Commutative(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)
	c1 := createTestStore(t, 3)
	c2 := createTestStore(t, 4)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("a1"), "done": ir.Bool(true)})
	write(t, a, "r2", map[string]ir.Value{"label": ir.String("a2")})
	write(t, b, "r1", map[string]ir.Value{"label": ir.String("b1")})
	write(t, b, "r3", map[string]ir.Value{"label": ir.String("b3")})
	_, err := b.RecordLocalDelete(ctx, "todos", pk("r3"))
	require.NoError(t, err)

	fromA, err := a.ChangesSince(ctx, ir.ZeroSite, 0)
	require.NoError(t, err)
	fromB, err := b.ChangesSince(ctx, ir.ZeroSite, 0)
	require.NoError(t, err)

	_, err = c1.ApplyBatch(ctx, fromA)
	require.NoError(t, err)
	_, err = c1.ApplyBatch(ctx, fromB)
	require.NoError(t, err)

	_, err = c2.ApplyBatch(ctx, fromB)
	require.NoError(t, err)
	_, err = c2.ApplyBatch(ctx, fromA)
	require.NoError(t, err)

	assert.Equal(t, digest(t, c1), digest(t, c2))
	rows, err := c1.Rows(ctx, "todos")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestApplyBatch_TransitivePropagation(t *testing.T) {
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)
	c := createTestStore(t, 3)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("from a")})
	write(t, b, "r2", map[string]ir.Value{"label": ir.String("from b")})

	pull(t, b, a)
	pull(t, c, b)

	assert.Equal(t, ir.String("from a"), label(t, c, "r1"))
	assert.Equal(t, ir.String("from b"), label(t, c, "r2"))

	// Later writes at a reach c through b because b re-stamps adopted
	// changes with its own db_version.
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("edited at a")})
	pull(t, b, a)
	pull(t, c, b)
	assert.Equal(t, ir.String("edited at a"), label(t, c, "r1"))
}

func TestApplyBatch_DeletePropagatesAndResurrects(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})
	pull(t, b, a)

	_, err := a.RecordLocalDelete(ctx, "todos", pk("r1"))
	require.NoError(t, err)
	pull(t, b, a)

	rows, err := b.Rows(ctx, "todos")
	require.NoError(t, err)
	assert.Empty(t, rows)

	write(t, b, "r1", map[string]ir.Value{"label": ir.String("back")})
	pull(t, a, b)

	for _, s := range []*Store{a, b} {
		row, found, err := s.Row(ctx, "todos", pk("r1"))
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, row.Live)
		assert.Equal(t, int64(4), row.CausalLength)
		assert.Equal(t, ir.String("back"), row.Columns["label"])
	}
}

func TestApplyBatch_DerivedLivenessConverges(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)
	c := createTestStore(t, 3)

	// Both sides create the same row before either has seen the other.
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("from a")})
	write(t, b, "r1", map[string]ir.Value{"done": ir.Bool(true)})
	pull(t, a, b)
	pull(t, b, a)
	pull(t, c, b)

	var cells []ir.ColumnState
	for _, s := range []*Store{a, b, c} {
		st, found, err := s.CurrentColumnState(ctx, "todos", pk("r1"), ir.LivenessColumn)
		require.NoError(t, err)
		require.True(t, found)
		st.DBVersion = 0
		cells = append(cells, st)

		row, _, err := s.Row(ctx, "todos", pk("r1"))
		require.NoError(t, err)
		assert.True(t, row.Live)
		assert.Equal(t, ir.String("from a"), row.Columns["label"])
		assert.Equal(t, ir.Bool(true), row.Columns["done"])
	}
	assert.Equal(t, cells[0], cells[1])
	assert.Equal(t, cells[0], cells[2], "liveness reaches c through b's adopted column changes")
	assert.Equal(t, digest(t, a), digest(t, c))

	log, err := c.Log(ctx)
	require.NoError(t, err)
	for _, ch := range log {
		assert.NotEqual(t, ir.LivenessColumn, ch.Column, "derived liveness is never logged")
	}
}

func TestApplyBatch_ConcurrentDeleteAndUpdate(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})
	pull(t, b, a)

	_, err := a.RecordLocalDelete(ctx, "todos", pk("r1"))
	require.NoError(t, err)
	write(t, b, "r1", map[string]ir.Value{"label": ir.String("edited")})

	pull(t, a, b)
	pull(t, b, a)

	assert.Equal(t, digest(t, a), digest(t, b))
	for _, s := range []*Store{a, b} {
		row, _, err := s.Row(ctx, "todos", pk("r1"))
		require.NoError(t, err)
		assert.False(t, row.Live, "an update of a live row does not undo a concurrent delete")
		assert.Equal(t, ir.String("edited"), row.Columns["label"])
	}
}

func TestApplyBatch_SchemaViolationRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})
	batch, err := a.ChangesSince(ctx, b.Site(), 0)
	require.NoError(t, err)

	bad := batch.Changes[len(batch.Changes)-1]
	bad.Column = "color"
	batch.Changes = append(batch.Changes, bad)

	_, err = b.ApplyBatch(ctx, batch)
	require.Error(t, err)
	assert.True(t, ir.IsSchemaError(err))

	rows, err := b.Rows(ctx, "todos")
	require.NoError(t, err)
	assert.Empty(t, rows)
	cursor, err := b.CursorFor(ctx, a.Site())
	require.NoError(t, err)
	assert.Zero(t, cursor)
	head, err := b.DBVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, head)
}

func TestApplyBatch_Monotonicity(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)

	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})
	write(t, a, "r2", map[string]ir.Value{"label": ir.String("Y")})
	write(t, a, "r3", map[string]ir.Value{"label": ir.String("Z")})

	t.Run("gap", func(t *testing.T) {
		batch, err := a.ChangesSince(ctx, b.Site(), 2)
		require.NoError(t, err)
		_, err = b.ApplyBatch(ctx, batch)
		require.Error(t, err)
		assert.True(t, ir.IsMonotonicityError(err))

		rows, err := b.Rows(ctx, "todos")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	pull(t, b, a)

	t.Run("backwards", func(t *testing.T) {
		stale, err := a.ChangesSinceLimit(ctx, b.Site(), 0, 1)
		require.NoError(t, err)
		require.Equal(t, int64(1), stale.Through)
		_, err = b.ApplyBatch(ctx, stale)
		require.Error(t, err)
		assert.True(t, ir.IsMonotonicityError(err))

		cursor, err := b.CursorFor(ctx, a.Site())
		require.NoError(t, err)
		assert.Equal(t, int64(3), cursor)
	})

	t.Run("redelivery", func(t *testing.T) {
		batch, err := a.ChangesSince(ctx, b.Site(), 0)
		require.NoError(t, err)
		res, err := b.ApplyBatch(ctx, batch)
		require.NoError(t, err)
		assert.Zero(t, res.Applied)
		assert.Equal(t, int64(3), res.Cursor)
	})

	t.Run("change outside range", func(t *testing.T) {
		batch, err := a.ChangesSince(ctx, b.Site(), 0)
		require.NoError(t, err)
		batch.Through = 2
		_, err = b.ApplyBatch(ctx, batch)
		require.Error(t, err)
		assert.True(t, ir.IsMonotonicityError(err))
	})
}

func TestApplyBatch_AnonymousBatchLeavesCursors(t *testing.T) {
	ctx := context.Background()
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})

	batch, err := a.ChangesSince(ctx, b.Site(), 0)
	require.NoError(t, err)
	batch.From = ir.ZeroSite

	res, err := b.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Zero(t, res.Cursor)

	cursors, err := b.Cursors(ctx)
	require.NoError(t, err)
	assert.Empty(t, cursors)
}

func TestApplyBatch_CancelledContextRollsBack(t *testing.T) {
	a := createTestStore(t, 1)
	b := createTestStore(t, 2)
	write(t, a, "r1", map[string]ir.Value{"label": ir.String("X")})

	batch, err := a.ChangesSince(context.Background(), b.Site(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.ApplyBatch(ctx, batch)
	require.Error(t, err)

	head, err := b.DBVersion(context.Background())
	require.NoError(t, err)
	assert.Zero(t, head)
}
