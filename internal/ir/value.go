package ir

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Value is a sealed interface representing a scalar column value.
// Only Null, String, Int, Bool and Bytes implement this.
// NO Float - floats break byte-identical convergence checks.
type Value interface {
	value() // Sealed - only these types implement it
	Kind() Kind
}

// Kind names the scalar type of a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "text"
	KindInt    Kind = "integer"
	KindBool   Kind = "boolean"
	KindBytes  Kind = "blob"
)

// Null is the SQL NULL value. A Null on the liveness column is the tombstone.
type Null struct{}

func (Null) value()     {}
func (Null) Kind() Kind { return KindNull }

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a text value.
type String string

func (String) value()     {}
func (String) Kind() Kind { return KindString }

// Int is an integer value. Always int64.
type Int int64

func (Int) value()     {}
func (Int) Kind() Kind { return KindInt }

// Bool is a boolean value.
type Bool bool

func (Bool) value()     {}
func (Bool) Kind() Kind { return KindBool }

// Bytes is a blob value.
type Bytes []byte

func (Bytes) value()     {}
func (Bytes) Kind() Kind { return KindBytes }

// MarshalJSON implements json.Marshaler for Bytes using the blob wrapper.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return MarshalValue(b)
}

// blobKey is the single key of the JSON object used to carry Bytes.
const blobKey = "$blob"

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether two values have the same kind and content.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	default:
		return false
	}
}

// FormatValue renders a value for humans (CLI tables, log lines).
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "NULL"
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case Bytes:
		return "x'" + fmt.Sprintf("%x", []byte(val)) + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// MarshalValue encodes a value to its JSON wire form.
//
//	Null   -> null
//	String -> "text"
//	Int    -> 42
//	Bool   -> true
//	Bytes  -> {"$blob":"<base64>"}
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return marshalCanonicalString(string(val))
	case Int:
		return []byte(fmt.Sprintf("%d", int64(val))), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Bytes:
		return []byte(`{"` + blobKey + `":"` + base64.StdEncoding.EncodeToString(val) + `"}`), nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes the JSON wire form of a value.
// Rejects floats, arrays and any object other than a blob wrapper.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty value")
	}

	switch data[0] {
	case 'n':
		if string(data) != "null" {
			return nil, fmt.Errorf("invalid value: %s", data)
		}
		return Null{}, nil

	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case '{':
		var wrapper map[string]string
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid blob value: %w", err)
		}
		encoded, ok := wrapper[blobKey]
		if !ok || len(wrapper) != 1 {
			return nil, fmt.Errorf("objects are not scalar values: %s", data)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid blob encoding: %w", err)
		}
		return Bytes(raw), nil

	case '[':
		return nil, fmt.Errorf("arrays are not scalar values: %s", data)

	default:
		s := string(data)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n := json.Number(s)
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(i), nil
	}
}

// FromAny converts a decoded YAML/JSON scalar into a Value.
// Used by the scenario harness and the CLI where values arrive untyped.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case []byte:
		return Bytes(val), nil
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are not allowed: %s", val)
		}
		return Int(i), nil
	case float64, float32:
		return nil, fmt.Errorf("floats are not allowed: %v", val)
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}
