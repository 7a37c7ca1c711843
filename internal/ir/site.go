package ir

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SiteIDLen is the byte length of a site identifier (a UUID).
const SiteIDLen = 16

// SiteID identifies one replica. Assigned once at initialization and never
// reassigned. Comparable, so it can key maps.
type SiteID [SiteIDLen]byte

// ZeroSite is the unset site. No replica ever has this identifier.
var ZeroSite SiteID

// SiteIDFromBytes copies a 16-byte slice into a SiteID.
func SiteIDFromBytes(b []byte) (SiteID, error) {
	var s SiteID
	if len(b) != SiteIDLen {
		return s, fmt.Errorf("site id must be %d bytes, got %d", SiteIDLen, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// ParseSiteID parses the 32-character hex form produced by String.
// Hyphenated UUID text is accepted too.
func ParseSiteID(text string) (SiteID, error) {
	clean := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		if text[i] != '-' {
			clean = append(clean, text[i])
		}
	}
	raw, err := hex.DecodeString(string(clean))
	if err != nil {
		return ZeroSite, fmt.Errorf("parse site id %q: %w", text, err)
	}
	s, err := SiteIDFromBytes(raw)
	if err != nil {
		return ZeroSite, fmt.Errorf("parse site id %q: %w", text, err)
	}
	return s, nil
}

// String returns the lowercase hex form.
func (s SiteID) String() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first 8 hex characters, for log lines.
func (s SiteID) Short() string {
	return s.String()[:8]
}

// IsZero reports whether the site is unset.
func (s SiteID) IsZero() bool {
	return s == ZeroSite
}

// Bytes returns a copy of the identifier bytes.
func (s SiteID) Bytes() []byte {
	b := make([]byte, SiteIDLen)
	copy(b, s[:])
	return b
}

// Compare orders sites byte-wise. Returns -1, 0 or +1.
func (s SiteID) Compare(other SiteID) int {
	return bytes.Compare(s[:], other[:])
}

// MarshalJSON encodes the site as base64 bytes, matching the wire shape.
func (s SiteID) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(s[:]))
}

// UnmarshalJSON decodes base64 bytes.
func (s *SiteID) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("site id: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("site id: %w", err)
	}
	parsed, err := SiteIDFromBytes(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
