package harness

import "github.com/roach88/rowsync/internal/ir"

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Op        string `json:"op"`
	Replica   string `json:"replica,omitempty"`
	From      string `json:"from,omitempty"`
	Table     string `json:"table,omitempty"`
	PK        string `json:"pk,omitempty"`
	Applied   int    `json:"applied"`
	Discarded int    `json:"discarded"`
	DBVersion int64  `json:"db_version"`
	Error     string `json:"error,omitempty"`
}

// ReplicaState is the observable state of one replica after a run.
type ReplicaState struct {
	DBVersion int64            `json:"db_version"`
	Cursors   map[string]int64 `json:"cursors"`
	Rows      []RowState       `json:"rows"`
	Digest    string           `json:"digest"`
}

// RowState is one live row.
type RowState struct {
	Table        string              `json:"table"`
	PK           string              `json:"pk"`
	CausalLength int64               `json:"causal_length"`
	Columns      map[string]ir.Value `json:"columns"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// State is keyed by replica name.
	State map[string]ReplicaState `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ReplicaState),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
