package crdt

import (
	"fmt"

	"github.com/roach88/rowsync/internal/ir"
)

// LivenessChange builds the liveness record for a row moving to causal length cl.
// Its column_version is the causal length; the value is the tombstone (Null)
// or Bool(true).
func (p Parity) LivenessChange(table string, pk []byte, cl int64, site ir.SiteID) ir.Change {
	return ir.Change{
		Table:         table,
		PK:            pk,
		Column:        ir.LivenessColumn,
		Value:         p.LivenessValue(cl),
		ColumnVersion: cl,
		OriginSite:    site,
		CausalLength:  cl,
	}
}

// AdvancesLiveness reports whether a column record carrying causal length
// incoming moves a row whose liveness cell holds local. Column records are
// only written while a row is live, so only live lengths count.
func (p Parity) AdvancesLiveness(incoming, local int64) bool {
	return p.IsLive(incoming) && incoming > local
}

// LivenessValue is the value stored in the liveness column at causal length cl.
func (p Parity) LivenessValue(cl int64) ir.Value {
	if p.IsTombstone(cl) {
		return ir.Null{}
	}
	return ir.Bool(true)
}

// CheckLiveness validates an incoming liveness record: its version must equal
// its causal length, and its value must agree with the parity.
func (p Parity) CheckLiveness(c ir.Change) error {
	if c.CausalLength < 1 {
		return fmt.Errorf("liveness causal_length must be >= 1, got %d", c.CausalLength)
	}
	if c.ColumnVersion != c.CausalLength {
		return fmt.Errorf("liveness column_version %d != causal_length %d", c.ColumnVersion, c.CausalLength)
	}
	if p.IsTombstone(c.CausalLength) != ir.IsNull(c.Value) {
		return fmt.Errorf("liveness value %s disagrees with causal_length %d under %s parity",
			ir.FormatValue(c.Value), c.CausalLength, p)
	}
	return nil
}
