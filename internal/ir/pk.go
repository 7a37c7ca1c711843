package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodePK builds a primary key from its parts as a canonical JSON array.
// The engine treats the result as opaque bytes; the encoding exists so that
// applications (and humans reading the CLI) share one deterministic form.
//
// Example: EncodePK(String("0190c4e2-...")) -> ["0190c4e2-..."]
func EncodePK(parts ...Value) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("encode pk: at least one part is required")
	}
	for i, p := range parts {
		if IsNull(p) {
			return nil, fmt.Errorf("encode pk: part %d is null", i)
		}
	}
	b, err := MarshalCanonical(parts)
	if err != nil {
		return nil, fmt.Errorf("encode pk: %w", err)
	}
	return b, nil
}

// MustEncodePK is like EncodePK but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEncodePK(parts ...Value) []byte {
	pk, err := EncodePK(parts...)
	if err != nil {
		panic(err)
	}
	return pk
}

// DecodePK reverses EncodePK. Keys written by other encoders return an error;
// callers should fall back to FormatPK for display.
func DecodePK(pk []byte) ([]Value, error) {
	var raw []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(pk))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode pk: %w", err)
	}
	parts := make([]Value, len(raw))
	for i, r := range raw {
		v, err := UnmarshalValue(r)
		if err != nil {
			return nil, fmt.Errorf("decode pk part %d: %w", i, err)
		}
		parts[i] = v
	}
	return parts, nil
}

// FormatPK renders a primary key for humans: the decoded parts joined with
// '/' when the key came from EncodePK, hex otherwise.
func FormatPK(pk []byte) string {
	parts, err := DecodePK(pk)
	if err != nil {
		return fmt.Sprintf("x'%x'", pk)
	}
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte('/')
		}
		buf.WriteString(FormatValue(p))
	}
	return buf.String()
}
