package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
)

// LivenessColumn is the reserved column that carries row existence.
// Its column_version equals the row's causal length; its value is Null
// for a tombstone and Bool(true) for a live row.
const LivenessColumn = "__live"

// Change is one Column Change Record - the atomic unit of replication.
//
// All records produced by one local write transaction, or adopted by one
// merge transaction, share a DBVersion and are ordered by Seq.
type Change struct {
	Table         string `json:"table"`
	PK            []byte `json:"pk"`
	Column        string `json:"column"`
	Value         Value  `json:"value"`
	ColumnVersion int64  `json:"column_version"`
	DBVersion     int64  `json:"db_version"`
	OriginSite    SiteID `json:"origin_site"`
	CausalLength  int64  `json:"causal_length"`
	Seq           int64  `json:"seq"`
}

// wireChange mirrors Change with the value kept as raw JSON.
type wireChange struct {
	Table         string          `json:"table"`
	PK            []byte          `json:"pk"`
	Column        string          `json:"column"`
	Value         json.RawMessage `json:"value"`
	ColumnVersion int64           `json:"column_version"`
	DBVersion     int64           `json:"db_version"`
	OriginSite    SiteID          `json:"origin_site"`
	CausalLength  int64           `json:"causal_length"`
	Seq           int64           `json:"seq"`
}

// MarshalJSON implements json.Marshaler using the ChangeRecord wire shape.
func (c Change) MarshalJSON() ([]byte, error) {
	val, err := MarshalValue(c.Value)
	if err != nil {
		return nil, fmt.Errorf("change %s.%s: %w", c.Table, c.Column, err)
	}
	return json.Marshal(wireChange{
		Table:         c.Table,
		PK:            c.PK,
		Column:        c.Column,
		Value:         val,
		ColumnVersion: c.ColumnVersion,
		DBVersion:     c.DBVersion,
		OriginSite:    c.OriginSite,
		CausalLength:  c.CausalLength,
		Seq:           c.Seq,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A missing value decodes as Null.
func (c *Change) UnmarshalJSON(data []byte) error {
	var w wireChange
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var val Value = Null{}
	if len(w.Value) > 0 {
		v, err := UnmarshalValue(w.Value)
		if err != nil {
			return fmt.Errorf("change %s.%s value: %w", w.Table, w.Column, err)
		}
		val = v
	}

	*c = Change{
		Table:         w.Table,
		PK:            w.PK,
		Column:        w.Column,
		Value:         val,
		ColumnVersion: w.ColumnVersion,
		DBVersion:     w.DBVersion,
		OriginSite:    w.OriginSite,
		CausalLength:  w.CausalLength,
		Seq:           w.Seq,
	}
	return nil
}

// IsLiveness reports whether the change targets the liveness column.
func (c Change) IsLiveness() bool {
	return c.Column == LivenessColumn
}

// SameCell reports whether two changes target the same (table, pk, column).
func (c Change) SameCell(other Change) bool {
	return c.Table == other.Table && c.Column == other.Column && bytes.Equal(c.PK, other.PK)
}

// Batch is the reply to a delta request.
//
// Since echoes the requester's floor; Through is the responder's db_version
// head observed in the same snapshot as Changes. A requester that merges the
// batch may advance its cursor for From to Through.
//
// More is set when the responder cut the batch short of its head; Through is
// then the last db_version included and the requester should ask again.
type Batch struct {
	From    SiteID   `json:"from"`
	Since   int64    `json:"since"`
	Through int64    `json:"through"`
	More    bool     `json:"more,omitempty"`
	Changes []Change `json:"changes"`
}

// MaxDBVersion returns the highest db_version among the changes, or 0.
func (b Batch) MaxDBVersion() int64 {
	var max int64
	for _, c := range b.Changes {
		if c.DBVersion > max {
			max = c.DBVersion
		}
	}
	return max
}

// MergeResult summarizes one ApplyBatch call.
type MergeResult struct {
	// Applied counts changes that won and were adopted locally.
	Applied int `json:"applied"`

	// Discarded counts changes that lost (or tied) and were no-ops.
	Discarded int `json:"discarded"`

	// DBVersion is the local db_version stamped on adopted changes, 0 if none.
	DBVersion int64 `json:"db_version"`

	// Cursor is the sender's cursor after the merge, 0 for anonymous batches.
	Cursor int64 `json:"cursor"`
}

// ColumnState is the authoritative current state of one cell.
type ColumnState struct {
	Value         Value  `json:"value"`
	ColumnVersion int64  `json:"column_version"`
	OriginSite    SiteID `json:"origin_site"`
	DBVersion     int64  `json:"db_version"`
	CausalLength  int64  `json:"causal_length"`
}

// Row is the visible state of one row.
type Row struct {
	Table        string           `json:"table"`
	PK           []byte           `json:"pk"`
	Columns      map[string]Value `json:"columns"`
	CausalLength int64            `json:"causal_length"`
	Live         bool             `json:"live"`
}

// Cursor is the high-water mark of one peer's db_version merged locally.
type Cursor struct {
	Site      SiteID `json:"site"`
	DBVersion int64  `json:"db_version"`
}

// PeerEndpoint is one discovered peer.
type PeerEndpoint struct {
	DisplayName string   `json:"display_name"`
	Hostname    string   `json:"hostname"`
	Port        uint16   `json:"port"`
	Addresses   []net.IP `json:"addresses"`

	// Site is the peer's advertised identity, ZeroSite when unknown.
	Site SiteID `json:"site"`
}

// BaseURL returns an http URL for the endpoint, preferring IPv4 addresses.
func (p PeerEndpoint) BaseURL() string {
	host := p.Hostname
	for _, addr := range p.Addresses {
		if addr.To4() != nil {
			host = addr.String()
			break
		}
	}
	if host == p.Hostname && len(p.Addresses) > 0 {
		host = p.Addresses[0].String()
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprintf("%d", p.Port))
}

// Notice announces that a replica committed new changes. It is a hint only:
// delivery is at-most-once and receivers must still pull to learn anything.
type Notice struct {
	Type      string `json:"type"`
	Site      SiteID `json:"site"`
	DBVersion int64  `json:"db_version"`
}

// NoticeTypeChanges is the Type of a commit notice.
const NoticeTypeChanges = "changes"
