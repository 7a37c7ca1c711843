package replica

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/metrics"
	"github.com/roach88/rowsync/internal/schema"
	"github.com/roach88/rowsync/internal/store"
)

// Options configures Open.
type Options struct {
	// Path is the SQLite database path, ":memory:" for a throwaway replica.
	Path string

	// Schema defaults to the built-in todos schema.
	Schema *schema.Schema

	// Parity is the tombstone parity for a new database.
	Parity crdt.Parity

	// Sites assigns the site id of a new database. Defaults to UUIDv7Generator.
	Sites SiteGenerator

	// Metrics defaults to metrics.Nop.
	Metrics metrics.Recorder

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Replica is one replica of the replicated tables.
type Replica struct {
	store   *store.Store
	metrics metrics.Recorder
	log     *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan ir.Notice
	nextID int
	closed bool
}

// noticeBuffer is the per-subscriber buffer; notices beyond it are dropped.
const noticeBuffer = 16

// Open opens (or initializes) the replica database.
func Open(ctx context.Context, opts Options) (*Replica, error) {
	if opts.Sites == nil {
		opts.Sites = UUIDv7Generator{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s, err := store.Open(ctx, opts.Path, store.Options{
		Schema:  opts.Schema,
		Parity:  opts.Parity,
		NewSite: opts.Sites.Generate,
	})
	if err != nil {
		return nil, err
	}

	r := &Replica{
		store:   s,
		metrics: opts.Metrics,
		log:     opts.Logger.With("site", s.Site().Short()),
		subs:    make(map[int]chan ir.Notice),
	}
	r.log.Info("replica opened", "path", opts.Path, "parity", s.Parity())
	return r, nil
}

// Close closes the store and every subscription channel.
func (r *Replica) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for id, ch := range r.subs {
			close(ch)
			delete(r.subs, id)
		}
	}
	r.mu.Unlock()
	return r.store.Close()
}

// Site returns the local site identifier.
func (r *Replica) Site() ir.SiteID { return r.store.Site() }

// Parity returns the tombstone parity.
func (r *Replica) Parity() crdt.Parity { return r.store.Parity() }

// Schema returns the replicated tables.
func (r *Replica) Schema() *schema.Schema { return r.store.Schema() }

// DBVersion returns the local db_version head.
func (r *Replica) DBVersion(ctx context.Context) (int64, error) {
	return r.store.DBVersion(ctx)
}

// Put upserts the given columns of one row and returns the db_version of
// the write.
func (r *Replica) Put(ctx context.Context, table string, pk []byte, values map[string]ir.Value) (int64, error) {
	v, err := r.store.RecordLocalWrite(ctx, table, pk, values)
	if err != nil {
		return 0, err
	}
	r.log.Debug("local write", "table", table, "pk", ir.FormatPK(pk), "db_version", v, "columns", len(values))
	r.metrics.LocalWrite(v)
	r.publish(v)
	return v, nil
}

// Delete deletes one row. Returns 0 when the row was absent or already deleted.
func (r *Replica) Delete(ctx context.Context, table string, pk []byte) (int64, error) {
	v, err := r.store.RecordLocalDelete(ctx, table, pk)
	if err != nil || v == 0 {
		return v, err
	}
	r.log.Debug("local delete", "table", table, "pk", ir.FormatPK(pk), "db_version", v)
	r.metrics.LocalWrite(v)
	r.publish(v)
	return v, nil
}

// Get returns one row, deleted or not.
func (r *Replica) Get(ctx context.Context, table string, pk []byte) (ir.Row, bool, error) {
	return r.store.Row(ctx, table, pk)
}

// Rows returns the live rows of a table ordered by primary key.
func (r *Replica) Rows(ctx context.Context, table string) ([]ir.Row, error) {
	return r.store.Rows(ctx, table)
}

// ColumnState returns the current state of one cell.
func (r *Replica) ColumnState(ctx context.Context, table string, pk []byte, column string) (ir.ColumnState, bool, error) {
	return r.store.CurrentColumnState(ctx, table, pk, column)
}

// ChangesSince answers a delta request. limit <= 0 means no cap.
func (r *Replica) ChangesSince(ctx context.Context, requester ir.SiteID, floor int64, limit int) (ir.Batch, error) {
	return r.store.ChangesSinceLimit(ctx, requester, floor, limit)
}

// ApplyBatch merges a batch and publishes a notice when anything was adopted.
func (r *Replica) ApplyBatch(ctx context.Context, batch ir.Batch) (ir.MergeResult, error) {
	res, err := r.store.ApplyBatch(ctx, batch)
	r.metrics.MergeBatch(res, err)
	if err != nil {
		r.log.Warn("merge rejected", "peer", batch.From.Short(), "since", batch.Since, "through", batch.Through, "error", err)
		return res, err
	}
	r.log.Debug("merge applied",
		"peer", batch.From.Short(),
		"applied", res.Applied,
		"discarded", res.Discarded,
		"db_version", res.DBVersion,
		"cursor", res.Cursor,
	)
	if res.DBVersion > 0 {
		r.publish(res.DBVersion)
	}
	return res, nil
}

// CursorFor returns the cursor for peer.
func (r *Replica) CursorFor(ctx context.Context, peer ir.SiteID) (int64, error) {
	return r.store.CursorFor(ctx, peer)
}

// AdvanceCursor moves the cursor for peer forward.
func (r *Replica) AdvanceCursor(ctx context.Context, peer ir.SiteID, floor int64) error {
	return r.store.AdvanceCursor(ctx, peer, floor)
}

// Cursors lists every peer cursor.
func (r *Replica) Cursors(ctx context.Context) ([]ir.Cursor, error) {
	return r.store.Cursors(ctx)
}

// Log returns the full change log.
func (r *Replica) Log(ctx context.Context) ([]ir.Change, error) {
	return r.store.Log(ctx)
}

// Digest returns a content digest of every live row. Replicas that absorbed
// the same changes return the same digest.
func (r *Replica) Digest(ctx context.Context) (string, error) {
	rows, err := r.store.AllRows(ctx)
	if err != nil {
		return "", err
	}
	return ir.StateDigest(rows)
}

// Subscribe returns a channel of commit notices and a function that ends the
// subscription. Slow subscribers lose notices rather than block writers.
func (r *Replica) Subscribe() (<-chan ir.Notice, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan ir.Notice, noticeBuffer)
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if sub, ok := r.subs[id]; ok {
				close(sub)
				delete(r.subs, id)
			}
		})
	}
}

func (r *Replica) publish(dbVersion int64) {
	n := ir.Notice{Type: ir.NoticeTypeChanges, Site: r.Site(), DBVersion: dbVersion}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
