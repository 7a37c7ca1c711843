package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
)

// ValidateWrite checks a local write before any record is emitted.
func (s *Schema) ValidateWrite(table string, pk []byte, values map[string]ir.Value) error {
	t, ok := s.tables[table]
	if !ok {
		return ir.NewSchemaError(table, "", "unknown table")
	}
	if len(pk) == 0 {
		return ir.NewSchemaError(table, "", "primary key must not be empty")
	}
	if len(values) == 0 {
		return ir.NewSchemaError(table, "", "write touches no columns")
	}
	for col, v := range values {
		if err := t.checkValue(col, v); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChange checks one incoming record. Liveness records are checked
// against the tombstone parity as well.
func (s *Schema) ValidateChange(c ir.Change, parity crdt.Parity) error {
	t, ok := s.tables[c.Table]
	if !ok {
		return ir.NewSchemaError(c.Table, c.Column, "unknown table")
	}
	if len(c.PK) == 0 {
		return ir.NewSchemaError(c.Table, c.Column, "primary key must not be empty")
	}
	if c.OriginSite.IsZero() {
		return ir.NewSchemaError(c.Table, c.Column, "origin site must be set")
	}
	if c.ColumnVersion < 1 {
		return ir.NewSchemaError(c.Table, c.Column, fmt.Sprintf("column_version must be >= 1, got %d", c.ColumnVersion))
	}
	if c.DBVersion < 1 {
		return ir.NewSchemaError(c.Table, c.Column, fmt.Sprintf("db_version must be >= 1, got %d", c.DBVersion))
	}
	if c.CausalLength < 1 {
		return ir.NewSchemaError(c.Table, c.Column, fmt.Sprintf("causal_length must be >= 1, got %d", c.CausalLength))
	}
	if c.IsLiveness() {
		if err := parity.CheckLiveness(c); err != nil {
			return ir.NewSchemaError(c.Table, c.Column, err.Error())
		}
		return nil
	}
	return t.checkValue(c.Column, c.Value)
}

// ValidateBatch checks every record; the first violation rejects the batch.
func (s *Schema) ValidateBatch(changes []ir.Change, parity crdt.Parity) error {
	for i, c := range changes {
		if err := s.ValidateChange(c, parity); err != nil {
			var re *ir.ReplicationError
			if errors.As(err, &re) {
				if re.Details == nil {
					re.Details = map[string]string{}
				}
				re.Details["index"] = fmt.Sprintf("%d", i)
			}
			return err
		}
	}
	return nil
}

func (t *Table) checkValue(column string, v ir.Value) error {
	typ, ok := t.Columns[column]
	if !ok {
		return ir.NewSchemaError(t.Name, column, "unknown column")
	}
	if !typ.Accepts(v) {
		return ir.NewSchemaError(t.Name, column,
			fmt.Sprintf("value of kind %s does not fit column type %s", kindOf(v), typ))
	}
	return nil
}

func kindOf(v ir.Value) ir.Kind {
	if ir.IsNull(v) {
		return ir.KindNull
	}
	return v.Kind()
}
