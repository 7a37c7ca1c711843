package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"plain string", "hello", `"hello"`},
		{"int", Int(42), "42"},
		{"int64", int64(-3), "-3"},
		{"bool", true, "true"},
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"value slice", []Value{String("a"), Int(1)}, `["a",1]`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"control characters", "a\nb\x01", `"a\nb\u0001"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D.. which sort before U+FB01 in UTF-16,
	// while UTF-8 byte order puts it after.
	obj := map[string]any{
		"\U0001F600": Int(1),
		"ﬁ":          Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"ﬁ\":2}", string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestMarshalCanonicalRejectsNFCKeyCollision(t *testing.T) {
	// "é" precomposed vs "e" + combining acute
	obj := map[string]any{
		"\u00e9":  Int(1),
		"e\u0301": Int(2),
	}
	_, err := MarshalCanonical(obj)
	assert.Error(t, err)
}

func TestMarshalCanonicalDoesNotNormalizeValues(t *testing.T) {
	decomposed := "e\u0301"
	result, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, `"`+decomposed+`"`, string(result))
}

func TestMarshalCanonicalInvalidUTF8(t *testing.T) {
	_, err := MarshalCanonical(String("\xff"))
	assert.Error(t, err)
}
