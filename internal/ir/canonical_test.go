package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	obj := IRObject{
		"zeta":  IRInt(1),
		"alpha": IRString("a"),
		"mid":   IRBool(true),
	}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mid":true,"zeta":1}`, string(got))
}

func TestMarshalCanonical_NestedValues(t *testing.T) {
	obj := IRObject{
		"outputs": IRArray{
			IRObject{"text": IRString("4\n"), "outputType": IRString("stream")},
		},
	}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"outputs":[{"outputType":"stream","text":"4\n"}]}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(IRString("a < b && c > d"))
	require.NoError(t, err)
	assert.Equal(t, `"a < b && c > d"`, string(got))
}

func TestMarshalCanonical_LineSeparatorsNotEscaped(t *testing.T) {
	got, err := MarshalCanonical(IRString("x\u2028y\u2029z"))
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\u2029z\"", string(got))
}

func TestMarshalCanonical_ControlCharacters(t *testing.T) {
	got, err := MarshalCanonical(IRString("a\x01b\tc"))
	require.NoError(t, err)
	assert.Equal(t, `"a\u0001b\tc"`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	assert.Error(t, err)

	_, err = MarshalCanonical(IRObject{"x": IRNull{}})
	assert.Error(t, err)

	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonical_GoMaps(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 2, "a": []any{"x", true}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",true],"b":2}`, string(got))
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	obj := IRObject{"\U0001F600": IRInt(1), "｡": IRInt(2)}
	assert.Equal(t, []string{"\U0001F600", "｡"}, obj.SortedKeys())
}

func TestIRObject_UnmarshalRejectsFloats(t *testing.T) {
	var obj IRObject
	err := obj.UnmarshalJSON([]byte(`{"x": 1.5}`))
	assert.Error(t, err)
}

func TestIRObject_RoundTrip(t *testing.T) {
	in := IRObject{
		"entryId": IRString("e1"),
		"n":       IRInt(1 << 60),
		"ok":      IRBool(false),
		"list":    IRArray{IRString("a")},
	}
	data, err := MarshalCanonical(in)
	require.NoError(t, err)

	var out IRObject
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, in, out)
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{"pos": 2.0, "name": "c1"})
	require.NoError(t, err)
	assert.Equal(t, IRObject{"pos": IRInt(2), "name": IRString("c1")}, v)

	_, err = FromGo(map[string]any{"pos": 2.5})
	assert.Error(t, err)

	_, err = FromGo(nil)
	assert.Error(t, err)
}

func TestPayloadDigest_Stable(t *testing.T) {
	p := ExecutionAssigned{EntryID: "e1", SessionID: "s1"}

	d1, err := PayloadDigest(p.EventName(), p.Encode())
	require.NoError(t, err)
	d2, err := PayloadDigest(p.EventName(), p.Encode())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	other := ExecutionStarted{EntryID: "e1", SessionID: "s1"}
	d3, err := PayloadDigest(other.EventName(), other.Encode())
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3, "event name is part of the digest")
}
