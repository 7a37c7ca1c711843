package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/replica"
	"github.com/roach88/rowsync/internal/testutil"
)

// maxExchangeRounds bounds an exchange step. Convergence takes at most
// len(replicas) rounds; more means a bug.
const maxExchangeRounds = 64

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	replicas map[string]*replica.Replica
	names    map[ir.SiteID]string
	seq      *testutil.Sequence
	logger   *slog.Logger
}

// Run executes a scenario with a fresh in-memory replica per name and
// returns the result. The error is non-nil only when the scenario could not
// be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and a logger (nil discards logs).
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if logger == nil {
		logger = testutil.DiscardLogger()
	}
	parity, err := crdt.ParseParity(scenario.Parity)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		replicas: make(map[string]*replica.Replica, len(scenario.Replicas)),
		names:    make(map[ir.SiteID]string, len(scenario.Replicas)),
		seq:      testutil.NewSequence(),
		logger:   logger,
	}
	defer h.close()

	for i, name := range scenario.Replicas {
		site := testutil.Site(byte(i + 1))
		r, err := replica.Open(ctx, replica.Options{
			Path:   ":memory:",
			Parity: parity,
			Sites:  testutil.NewSiteSequence(site),
			Logger: logger.With("replica", name),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open replica %s: %w", name, err)
		}
		h.replicas[name] = r
		h.names[site] = name
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	for _, name := range scenario.Replicas {
		state, err := h.snapshot(ctx, name)
		if err != nil {
			return nil, err
		}
		result.State[name] = state
	}

	for _, msg := range h.evaluateAssertions(ctx, result) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) close() {
	for _, r := range h.replicas {
		r.Close()
	}
}

// executeStep runs one step and records it in the trace. Replication
// errors are outcomes checked against the step's expectation; the returned
// error is reserved for malformed steps.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	event := TraceEvent{Op: step.Op, Replica: step.Replica, From: step.From}

	var (
		res ir.MergeResult
		err error
	)
	switch step.Op {
	case OpPut:
		event.Table, event.PK = tableOr(step.Table), step.PK
		values, convErr := toValues(step.Values)
		if convErr != nil {
			return convErr
		}
		res.DBVersion, err = h.replicas[step.Replica].Put(ctx, event.Table, pkFor(step.PK), values)

	case OpDelete:
		event.Table, event.PK = tableOr(step.Table), step.PK
		res.DBVersion, err = h.replicas[step.Replica].Delete(ctx, event.Table, pkFor(step.PK))

	case OpPull:
		peer := replica.LocalPeer{Replica: h.replicas[step.From], Limit: step.Limit}
		res, err = h.replicas[step.Replica].Sync(ctx, peer)

	case OpRedeliver:
		res, err = h.redeliver(ctx, step)

	case OpApply:
		batch, buildErr := h.buildBatch(step)
		if buildErr != nil {
			return buildErr
		}
		res, err = h.replicas[step.Replica].ApplyBatch(ctx, batch)

	case OpExchange:
		res, err = h.exchange(ctx)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	event.Seq = h.seq.Next()
	event.Applied = res.Applied
	event.Discarded = res.Discarded
	event.DBVersion = res.DBVersion
	if err != nil {
		event.Error = errorCode(err)
	}
	result.Trace = append(result.Trace, event)

	h.checkExpect(i, step, res, err, result)
	return nil
}

func (h *Harness) checkExpect(i int, step Step, res ir.MergeResult, err error, result *Result) {
	prefix := fmt.Sprintf("steps[%d] (%s)", i, step.Op)
	exp := step.Expect

	if exp == nil || exp.Error == "" {
		if err != nil {
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
			return
		}
	} else {
		if err == nil {
			result.AddError(fmt.Sprintf("%s: expected error %s, got success", prefix, exp.Error))
		} else if code := errorCode(err); code != exp.Error {
			result.AddError(fmt.Sprintf("%s: expected error %s, got %s (%v)", prefix, exp.Error, code, err))
		}
		return
	}

	if exp == nil {
		return
	}
	if exp.Applied != nil && *exp.Applied != res.Applied {
		result.AddError(fmt.Sprintf("%s: expected %d applied, got %d", prefix, *exp.Applied, res.Applied))
	}
	if exp.Discarded != nil && *exp.Discarded != res.Discarded {
		result.AddError(fmt.Sprintf("%s: expected %d discarded, got %d", prefix, *exp.Discarded, res.Discarded))
	}
}

// redeliver applies the source's changes above step.Since regardless of
// the destination's cursor.
func (h *Harness) redeliver(ctx context.Context, step Step) (ir.MergeResult, error) {
	dst, src := h.replicas[step.Replica], h.replicas[step.From]
	batch, err := src.ChangesSince(ctx, dst.Site(), step.Since, 0)
	if err != nil {
		return ir.MergeResult{}, err
	}
	return dst.ApplyBatch(ctx, batch)
}

func (h *Harness) buildBatch(step Step) (ir.Batch, error) {
	from := h.replicas[step.From].Site()
	batch := ir.Batch{From: from, Since: step.Since, Through: step.Through}
	for j, c := range step.Changes {
		v, err := ir.FromAny(c.Value)
		if err != nil {
			return batch, fmt.Errorf("changes[%d]: %w", j, err)
		}
		batch.Changes = append(batch.Changes, ir.Change{
			Table:         tableOr(c.Table),
			PK:            pkFor(c.PK),
			Column:        c.Column,
			Value:         v,
			ColumnVersion: c.ColumnVersion,
			DBVersion:     c.DBVersion,
			OriginSite:    from,
			CausalLength:  c.CausalLength,
			Seq:           int64(j),
		})
	}
	if batch.Through == 0 {
		batch.Through = batch.MaxDBVersion()
	}
	return batch, nil
}

// exchange pulls between every ordered pair until a round adopts nothing.
func (h *Harness) exchange(ctx context.Context) (ir.MergeResult, error) {
	var total ir.MergeResult
	for round := 0; round < maxExchangeRounds; round++ {
		adopted := 0
		for _, dst := range h.scenario.Replicas {
			for _, src := range h.scenario.Replicas {
				if dst == src {
					continue
				}
				res, err := h.replicas[dst].Sync(ctx, replica.LocalPeer{Replica: h.replicas[src]})
				if err != nil {
					return total, fmt.Errorf("%s pull from %s: %w", dst, src, err)
				}
				adopted += res.Applied
				total.Applied += res.Applied
				total.Discarded += res.Discarded
			}
		}
		if adopted == 0 {
			return total, nil
		}
	}
	return total, fmt.Errorf("no convergence after %d exchange rounds", maxExchangeRounds)
}

func (h *Harness) snapshot(ctx context.Context, name string) (ReplicaState, error) {
	r := h.replicas[name]
	state := ReplicaState{Cursors: map[string]int64{}, Rows: []RowState{}}

	var err error
	if state.DBVersion, err = r.DBVersion(ctx); err != nil {
		return state, err
	}
	cursors, err := r.Cursors(ctx)
	if err != nil {
		return state, err
	}
	for _, c := range cursors {
		state.Cursors[h.nameOf(c.Site)] = c.DBVersion
	}
	for _, table := range r.Schema().Tables() {
		rows, err := r.Rows(ctx, table)
		if err != nil {
			return state, err
		}
		for _, row := range rows {
			state.Rows = append(state.Rows, RowState{
				Table:        row.Table,
				PK:           ir.FormatPK(row.PK),
				CausalLength: row.CausalLength,
				Columns:      row.Columns,
			})
		}
	}
	if state.Digest, err = r.Digest(ctx); err != nil {
		return state, err
	}
	return state, nil
}

func (h *Harness) nameOf(site ir.SiteID) string {
	if name, ok := h.names[site]; ok {
		return name
	}
	return site.String()
}

func pkFor(id string) []byte {
	return ir.MustEncodePK(ir.String(id))
}

func toValues(in map[string]any) (map[string]ir.Value, error) {
	out := make(map[string]ir.Value, len(in))
	for col, raw := range in {
		v, err := ir.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("value of %s: %w", col, err)
		}
		out[col] = v
	}
	return out, nil
}

func errorCode(err error) string {
	var re *ir.ReplicationError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "ERROR"
}
