package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny_ConvertsNestedValues(t *testing.T) {
	v, err := FromAny(map[string]any{
		"name": "John",
		"age":  42,
		"tags": []any{"a", true},
		"meta": map[string]any{"n": int64(1)},
		"none": nil,
	})
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("John"), obj["name"])
	assert.Equal(t, Int(42), obj["age"])
	assert.Equal(t, List{String("a"), Bool(true)}, obj["tags"])
	assert.Equal(t, Object{"n": Int(1)}, obj["meta"])
	assert.Equal(t, Null{}, obj["none"])
}

func TestFromAny_RejectsFloats(t *testing.T) {
	_, err := FromAny(map[string]any{"ratio": 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")
}

func TestDecode_RejectsFractionalNumbers(t *testing.T) {
	_, err := Decode([]byte(`{"n": 1.5}`))
	require.Error(t, err)
}

func TestObject_JSONRoundTrip(t *testing.T) {
	obj := Object{
		"b": Int(2),
		"a": String("x"),
		"c": List{Bool(false), Null{}},
	}

	data, err := obj.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"c":[false,null]}`, string(data))

	var back Object
	require.NoError(t, back.UnmarshalJSON(data))
	assert.True(t, Equal(obj, back))
}

func TestClone_IsDeep(t *testing.T) {
	orig := Object{"inner": Object{"n": Int(1)}}
	cp := orig.Clone()
	cp["inner"].(Object)["n"] = Int(2)

	assert.Equal(t, Int(1), orig["inner"].(Object)["n"])
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(String("a"), String("a")))
	assert.False(t, Equal(String("1"), Int(1)))
	assert.True(t, Equal(List{Int(1)}, List{Int(1)}))
	assert.False(t, Equal(List{Int(1)}, List{Int(1), Int(2)}))
	assert.False(t, Equal(Object{"a": Int(1)}, Object{"b": Int(1)}))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "string", Kind(String("")))
	assert.Equal(t, "int", Kind(Int(0)))
	assert.Equal(t, "bool", Kind(Bool(false)))
	assert.Equal(t, "list", Kind(List{}))
	assert.Equal(t, "object", Kind(Object{}))
	assert.Equal(t, "null", Kind(Null{}))
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+10000 encodes as a surrogate pair (0xD800...) which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	obj := Object{"｡": Int(1), "\U00010000": Int(2)}
	assert.Equal(t, []string{"\U00010000", "｡"}, obj.SortedKeys())
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"sorted keys", Object{"b": Int(1), "a": Int(2)}, `{"a":2,"b":1}`},
		{"no html escaping", String("<a&b>"), `"<a&b>"`},
		{"control chars", String("a\nb\x01"), `"a\nb\u0001"`},
		{"line separator kept", String("x\u2028y"), "\"x\u2028y\""},
		{"nested", Object{"l": List{Bool(true), Null{}}}, `{"l":[true,null]}`},
		{"nfc", String("e\u0301"), "\"\u00e9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestHashValue_StableAcrossKeyOrder(t *testing.T) {
	h1, err := HashValue(DomainRecord, Object{"a": Int(1), "b": Int(2)})
	require.NoError(t, err)
	h2, err := HashValue(DomainRecord, Object{"b": Int(2), "a": Int(1)})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := HashValue(DomainSchema, Object{"a": Int(1), "b": Int(2)})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "domain separation must change the hash")
}
