package schema

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rowsync/internal/ir"
)

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeBoolean ColumnType = "boolean"
	TypeBlob    ColumnType = "blob"
	TypeAny     ColumnType = "any"
)

// Accepts reports whether a value may be stored in a column of this type.
// Null is accepted everywhere.
func (t ColumnType) Accepts(v ir.Value) bool {
	if ir.IsNull(v) || t == TypeAny {
		return true
	}
	return string(v.Kind()) == string(t)
}

func parseColumnType(s string) (ColumnType, bool) {
	switch ColumnType(s) {
	case TypeText, TypeInteger, TypeBoolean, TypeBlob, TypeAny:
		return ColumnType(s), true
	}
	return "", false
}

// Table is one replicated table.
type Table struct {
	Name    string
	Columns map[string]ColumnType

	// Order lists the column names in declaration order.
	Order []string
}

// Schema is the set of replicated tables. Immutable after compilation.
type Schema struct {
	tables map[string]*Table
}

// DefaultSource declares the todo list table used when no schema is configured.
const DefaultSource = `
table: todos: {
	columns: {
		id:    "text"
		label: "text"
		done:  "boolean"
	}
}
`

// Default returns the built-in todos schema.
func Default() *Schema {
	s, err := CompileString(DefaultSource, "default.cue")
	if err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}
	return s
}

// LoadFile reads and compiles a CUE schema file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return CompileString(string(data), path)
}

// CompileString compiles CUE source text.
func CompileString(src, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Compile parses the root CUE value into a Schema. The value must contain a
// "table" struct with at least one table.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return nil, &CompileError{Field: "table", Message: "at least one table is required", Pos: v.Pos()}
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{tables: make(map[string]*Table)}
	for iter.Next() {
		t, err := compileTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.tables[t.Name] = t
	}
	if len(s.tables) == 0 {
		return nil, &CompileError{Field: "table", Message: "at least one table is required", Pos: tablesVal.Pos()}
	}
	return s, nil
}

func compileTable(name string, v cue.Value) (*Table, error) {
	field := "table." + name
	if err := checkName(name); err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, &CompileError{Field: field + ".columns", Message: "columns are required", Pos: v.Pos()}
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	t := &Table{Name: name, Columns: make(map[string]ColumnType)}
	for iter.Next() {
		col := iter.Label()
		colField := field + ".columns." + col
		if err := checkName(col); err != nil {
			return nil, &CompileError{Field: colField, Message: err.Error(), Pos: iter.Value().Pos()}
		}
		raw, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: colField, Message: "column type must be a string", Pos: iter.Value().Pos()}
		}
		typ, ok := parseColumnType(raw)
		if !ok {
			return nil, &CompileError{
				Field:   colField,
				Message: fmt.Sprintf("unknown column type %q (want text, integer, boolean, blob or any)", raw),
				Pos:     iter.Value().Pos(),
			}
		}
		t.Columns[col] = typ
		t.Order = append(t.Order, col)
	}
	if len(t.Columns) == 0 {
		return nil, &CompileError{Field: field + ".columns", Message: "at least one column is required", Pos: colsVal.Pos()}
	}
	return t, nil
}

// checkName enforces identifier rules shared by tables and columns.
func checkName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name must not be empty")
	case !norm.NFC.IsNormalString(name):
		return fmt.Errorf("name %q is not NFC normalized", name)
	case strings.HasPrefix(name, "__"):
		return fmt.Errorf("name %q uses the reserved \"__\" prefix", name)
	}
	return nil
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns the table names in sorted order.
func (s *Schema) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
