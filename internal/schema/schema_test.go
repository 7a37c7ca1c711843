package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
)

func TestDefaultSchema(t *testing.T) {
	s := Default()
	assert.Equal(t, []string{"todos"}, s.Tables())

	todos, ok := s.Table("todos")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "label", "done"}, todos.Order)
	assert.Equal(t, TypeBoolean, todos.Columns["done"])
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"no tables", `other: 1`, "at least one table"},
		{"no columns", `table: t: {}`, "columns are required"},
		{"empty columns", `table: t: columns: {}`, "at least one column"},
		{"unknown type", `table: t: columns: a: "float"`, "unknown column type"},
		{"non-string type", `table: t: columns: a: 3`, "must be a string"},
		{"reserved column", `table: t: columns: "__live": "text"`, "reserved"},
		{"reserved table", `table: "__meta": columns: a: "text"`, "reserved"},
		{"cue syntax", `table: {`, "cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src, "test.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNamesAreComposed(t *testing.T) {
	s, err := CompileString("table: t: columns: \"e\u0301\": \"text\"", "test.cue")
	require.NoError(t, err)
	tbl, ok := s.Table("t")
	require.True(t, ok)
	require.Len(t, tbl.Order, 1)
	assert.True(t, norm.NFC.IsNormalString(tbl.Order[0]), "column %q", tbl.Order[0])

	assert.ErrorContains(t, checkName("e\u0301"), "NFC")
	assert.ErrorContains(t, checkName("__x"), "reserved")
	assert.ErrorContains(t, checkName(""), "empty")
	assert.NoError(t, checkName("\u00e9"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
table: notes: columns: {
	body:  "text"
	rank:  "integer"
	thumb: "blob"
	meta:  "any"
}
`), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	notes, ok := s.Table("notes")
	require.True(t, ok)
	assert.Len(t, notes.Columns, 4)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestValidateWrite(t *testing.T) {
	s := Default()
	pk := ir.MustEncodePK(ir.String("r1"))

	assert.NoError(t, s.ValidateWrite("todos", pk, map[string]ir.Value{
		"label": ir.String("milk"), "done": ir.Bool(false),
	}))
	assert.NoError(t, s.ValidateWrite("todos", pk, map[string]ir.Value{"label": ir.Null{}}))

	err := s.ValidateWrite("nope", pk, map[string]ir.Value{"label": ir.String("x")})
	assert.True(t, ir.IsSchemaError(err))

	err = s.ValidateWrite("todos", pk, map[string]ir.Value{"color": ir.String("red")})
	assert.True(t, ir.IsSchemaError(err))

	err = s.ValidateWrite("todos", pk, map[string]ir.Value{"done": ir.String("yes")})
	assert.True(t, ir.IsSchemaError(err))

	err = s.ValidateWrite("todos", nil, map[string]ir.Value{"label": ir.String("x")})
	assert.True(t, ir.IsSchemaError(err))

	err = s.ValidateWrite("todos", pk, nil)
	assert.True(t, ir.IsSchemaError(err))
}

func TestValidateChange(t *testing.T) {
	s := Default()
	site := ir.SiteID{0x01}
	valid := ir.Change{
		Table: "todos", PK: ir.MustEncodePK(ir.String("r1")), Column: "label",
		Value: ir.String("milk"), ColumnVersion: 1, DBVersion: 1, OriginSite: site, CausalLength: 2,
	}
	require.NoError(t, s.ValidateChange(valid, crdt.OddDeleted))

	mutate := func(f func(c *ir.Change)) ir.Change {
		c := valid
		f(&c)
		return c
	}

	tests := []struct {
		name   string
		change ir.Change
	}{
		{"unknown table", mutate(func(c *ir.Change) { c.Table = "other" })},
		{"unknown column", mutate(func(c *ir.Change) { c.Column = "color" })},
		{"kind mismatch", mutate(func(c *ir.Change) { c.Value = ir.Int(3) })},
		{"empty pk", mutate(func(c *ir.Change) { c.PK = nil })},
		{"zero site", mutate(func(c *ir.Change) { c.OriginSite = ir.ZeroSite })},
		{"zero column version", mutate(func(c *ir.Change) { c.ColumnVersion = 0 })},
		{"zero db version", mutate(func(c *ir.Change) { c.DBVersion = 0 })},
		{"zero causal length", mutate(func(c *ir.Change) { c.CausalLength = 0 })},
		{"bad liveness", mutate(func(c *ir.Change) {
			c.Column, c.ColumnVersion, c.CausalLength, c.Value = ir.LivenessColumn, 2, 2, ir.Null{}
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateChange(tt.change, crdt.OddDeleted)
			require.Error(t, err)
			assert.True(t, ir.IsSchemaError(err))
		})
	}

	live := crdt.OddDeleted.LivenessChange("todos", valid.PK, 2, site)
	live.DBVersion = 1
	assert.NoError(t, s.ValidateChange(live, crdt.OddDeleted))
}

func TestValidateBatchReportsIndex(t *testing.T) {
	s := Default()
	good := ir.Change{
		Table: "todos", PK: ir.MustEncodePK(ir.String("r1")), Column: "label",
		Value: ir.String("milk"), ColumnVersion: 1, DBVersion: 1, OriginSite: ir.SiteID{1}, CausalLength: 2,
	}
	bad := good
	bad.Column = "color"

	err := s.ValidateBatch([]ir.Change{good, bad}, crdt.OddDeleted)
	require.Error(t, err)
	var re *ir.ReplicationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "1", re.Details["index"])
	assert.Equal(t, "color", re.Column)
}
