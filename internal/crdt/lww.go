package crdt

import "github.com/roach88/rowsync/internal/ir"

// Version is the conflict-resolution key of one cell.
// The zero Version stands for an absent cell.
type Version struct {
	ColumnVersion int64
	Site          ir.SiteID
}

// VersionOf extracts the key of a change.
func VersionOf(c ir.Change) Version {
	return Version{ColumnVersion: c.ColumnVersion, Site: c.OriginSite}
}

// StateVersion extracts the key of a stored cell.
func StateVersion(s ir.ColumnState) Version {
	return Version{ColumnVersion: s.ColumnVersion, Site: s.OriginSite}
}

// Compare orders versions lexicographically: column_version first, then
// origin site byte-wise. Returns -1, 0 or +1.
func Compare(a, b Version) int {
	switch {
	case a.ColumnVersion < b.ColumnVersion:
		return -1
	case a.ColumnVersion > b.ColumnVersion:
		return 1
	}
	return a.Site.Compare(b.Site)
}

// Wins reports whether incoming strictly beats local. Ties lose, which makes
// re-applying a change a no-op.
func Wins(incoming, local Version) bool {
	return Compare(incoming, local) > 0
}
