package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeysUTF16(t *testing.T) {
	// U+10437 encodes as a surrogate pair whose lead unit 0xD801 sorts
	// below U+FFFD in UTF-16, the opposite of their UTF-8 byte order.
	b, err := MarshalCanonical(map[string]any{
		"\ufffd":     1,
		"\U00010437": 2,
		"z":          3,
		"a":          4,
	})
	require.NoError(t, err)
	want := `{"a":4,"z":3,"` + "\U00010437" + `":2,"` + "\ufffd" + `":1}`
	assert.Equal(t, want, string(b))
}

func TestMarshalCanonicalNormalizesNFC(t *testing.T) {
	// "e" plus combining acute vs precomposed e-acute must encode identically.
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	precomposed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, precomposed, decomposed)
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	b, err := MarshalCanonical("<a>&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(b))
}

func TestMarshalCanonicalRejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	assert.Error(t, err)

	_, err = MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)

	_, err = MarshalCanonical([]any{float32(1)})
	assert.Error(t, err)
}

func TestMarshalCanonicalIntegersAndBools(t *testing.T) {
	b, err := MarshalCanonical(map[string]any{
		"i":  42,
		"i6": int64(-7),
		"u":  uint32(3),
		"t":  true,
		"f":  false,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"f":false,"i":42,"i6":-7,"t":true,"u":3}`, string(b))
}

func TestDigestIsStable(t *testing.T) {
	v := map[string]any{
		"program": "demo",
		"rows":    []any{map[string]any{"n": 1}, map[string]any{"n": 2}},
	}

	d1, err := Digest(v)
	require.NoError(t, err)
	d2, err := Digest(v)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	d3, err := Digest(map[string]any{"program": "demo", "rows": []any{}})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}
