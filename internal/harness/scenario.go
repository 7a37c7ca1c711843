package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rowsync/internal/crdt"
)

// Scenario defines a replication scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Parity selects the tombstone parity of every replica (odd|even).
	Parity string `yaml:"parity,omitempty"`

	// Replicas names the replicas, in site order.
	Replicas []string `yaml:"replicas"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation of a scenario.
type Step struct {
	Op string `yaml:"op"`

	// Replica is the replica the step acts on (for pull: the destination).
	Replica string `yaml:"replica,omitempty"`

	// From is the source replica of pull, redeliver and apply.
	From string `yaml:"from,omitempty"`

	// Table defaults to "todos".
	Table  string         `yaml:"table,omitempty"`
	PK     string         `yaml:"pk,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`

	// Limit caps each batch of a pull.
	Limit int `yaml:"limit,omitempty"`

	// Since is the floor of a redeliver and of an apply batch.
	Since int64 `yaml:"since,omitempty"`

	// Through is the upper bound of an apply batch.
	Through int64 `yaml:"through,omitempty"`

	// Changes are the records of an apply batch.
	Changes []ChangeStep `yaml:"changes,omitempty"`

	Expect *StepExpect `yaml:"expect,omitempty"`
}

// ChangeStep is one hand-built record of an apply batch. The origin is the
// From replica.
type ChangeStep struct {
	Table         string `yaml:"table,omitempty"`
	PK            string `yaml:"pk"`
	Column        string `yaml:"column"`
	Value         any    `yaml:"value"`
	ColumnVersion int64  `yaml:"column_version"`
	DBVersion     int64  `yaml:"db_version"`
	CausalLength  int64  `yaml:"causal_length"`
}

// StepExpect checks the outcome of a step.
type StepExpect struct {
	// Error is the expected replication error code, e.g. SCHEMA_VIOLATION.
	Error string `yaml:"error,omitempty"`

	Applied   *int `yaml:"applied,omitempty"`
	Discarded *int `yaml:"discarded,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Replica string `yaml:"replica,omitempty"`

	// Replicas restricts converged; empty means all.
	Replicas []string `yaml:"replicas,omitempty"`

	Table string `yaml:"table,omitempty"`
	PK    string `yaml:"pk,omitempty"`

	// Live defaults to true for row assertions.
	Live *bool `yaml:"live,omitempty"`

	// Expect is a subset match on row columns.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Peer is the cursor owner's peer (cursor assertions).
	Peer string `yaml:"peer,omitempty"`

	Count     *int   `yaml:"count,omitempty"`
	DBVersion *int64 `yaml:"db_version,omitempty"`
}

// Operations.
const (
	OpPut       = "put"
	OpDelete    = "delete"
	OpPull      = "pull"
	OpRedeliver = "redeliver"
	OpApply     = "apply"
	OpExchange  = "exchange"
)

// Assertion types.
const (
	AssertConverged = "converged"
	AssertRow       = "row"
	AssertRowCount  = "row_count"
	AssertCursor    = "cursor"
	AssertDBVersion = "db_version"
)

// DefaultTable is the table steps and assertions use when none is named.
const DefaultTable = "todos"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is inconsistent.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and replica references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := crdt.ParseParity(s.Parity); err != nil {
		return err
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Replicas) > 255 {
		return fmt.Errorf("at most 255 replicas are supported")
	}
	for i, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replicas[%d]: name is empty", i)
		}
		if slices.Index(s.Replicas, name) != i {
			return fmt.Errorf("replicas[%d]: duplicate name %q", i, name)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	known := func(name string) bool { return slices.Contains(s.Replicas, name) }

	for i, step := range s.Steps {
		if err := validateStep(step, known); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, known); err != nil {
			return fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func validateStep(step Step, known func(string) bool) error {
	needReplica := func() error {
		if !known(step.Replica) {
			return fmt.Errorf("unknown replica %q", step.Replica)
		}
		return nil
	}
	needFrom := func() error {
		if !known(step.From) {
			return fmt.Errorf("unknown source replica %q", step.From)
		}
		if step.From == step.Replica {
			return fmt.Errorf("replica %q cannot pull from itself", step.From)
		}
		return nil
	}

	switch step.Op {
	case OpPut:
		if err := needReplica(); err != nil {
			return err
		}
		if step.PK == "" || len(step.Values) == 0 {
			return fmt.Errorf("pk and values are required")
		}
	case OpDelete:
		if err := needReplica(); err != nil {
			return err
		}
		if step.PK == "" {
			return fmt.Errorf("pk is required")
		}
	case OpPull, OpRedeliver:
		if err := needReplica(); err != nil {
			return err
		}
		return needFrom()
	case OpApply:
		if err := needReplica(); err != nil {
			return err
		}
		if err := needFrom(); err != nil {
			return err
		}
		if len(step.Changes) == 0 {
			return fmt.Errorf("changes are required")
		}
	case OpExchange:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion, known func(string) bool) error {
	switch a.Type {
	case AssertConverged:
		for _, name := range a.Replicas {
			if !known(name) {
				return fmt.Errorf("unknown replica %q", name)
			}
		}
		return nil
	case AssertRow, AssertRowCount, AssertCursor, AssertDBVersion:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if !known(a.Replica) {
		return fmt.Errorf("unknown replica %q", a.Replica)
	}
	switch a.Type {
	case AssertRow:
		if a.PK == "" {
			return fmt.Errorf("pk is required")
		}
	case AssertRowCount:
		if a.Count == nil {
			return fmt.Errorf("count is required")
		}
	case AssertCursor:
		if !known(a.Peer) {
			return fmt.Errorf("unknown peer %q", a.Peer)
		}
		if a.DBVersion == nil {
			return fmt.Errorf("db_version is required")
		}
	case AssertDBVersion:
		if a.DBVersion == nil {
			return fmt.Errorf("db_version is required")
		}
	}
	return nil
}

func tableOr(table string) string {
	if table == "" {
		return DefaultTable
	}
	return table
}
