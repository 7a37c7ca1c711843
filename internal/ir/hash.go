package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainState  = "rowsync/state/v1"
	DomainChange = "rowsync/change/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest computes a digest of visible row state.
//
// Two replicas that absorbed the same set of changes report the same digest,
// whatever order they merged them in. Only live rows contribute; rows are
// ordered by (table, pk bytes) so input order does not matter.
func StateDigest(rows []Row) (string, error) {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, func(a, b Row) int {
		if a.Table != b.Table {
			if a.Table < b.Table {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.PK, b.PK)
	})

	list := make([]any, 0, len(sorted))
	for _, r := range sorted {
		if !r.Live {
			continue
		}
		cols := make(map[string]any, len(r.Columns))
		for k, v := range r.Columns {
			cols[k] = v
		}
		list = append(list, map[string]any{
			"table":   r.Table,
			"pk":      base64.StdEncoding.EncodeToString(r.PK),
			"columns": cols,
		})
	}

	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// ChangeDigest identifies a change by content, excluding the local
// db_version and seq it was stored under. The same record adopted at two
// replicas has the same digest.
func ChangeDigest(c Change) (string, error) {
	obj := map[string]any{
		"table":          c.Table,
		"pk":             base64.StdEncoding.EncodeToString(c.PK),
		"column":         c.Column,
		"value":          c.Value,
		"column_version": c.ColumnVersion,
		"origin_site":    c.OriginSite.String(),
		"causal_length":  c.CausalLength,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ChangeDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChange, canonical), nil
}
