package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNounValidate(t *testing.T) {
	n := &Noun{ID: "a", Type: NounPerson, Vector: []float32{1, 2, 3}}
	require.NoError(t, n.Validate(0))
	require.NoError(t, n.Validate(3))
	require.ErrorIs(t, n.Validate(4), ErrValidation)

	require.ErrorIs(t, (&Noun{Type: NounPerson, Vector: []float32{1}}).Validate(0), ErrValidation)
	require.ErrorIs(t, (&Noun{ID: "a"}).Validate(0), ErrValidation)

	bad := &Noun{ID: "a", Vector: []float32{1}, Confidence: 1.5}
	require.ErrorIs(t, bad.Validate(0), ErrValidation)

	bad2 := &Noun{ID: "a", Vector: []float32{1}, Weight: -0.1}
	require.ErrorIs(t, bad2.Validate(0), ErrValidation)
}

func TestNounCloneIsDeep(t *testing.T) {
	n := &Noun{
		ID:       "a",
		Vector:   []float32{1, 2},
		Data:     []byte{1, 2, 3},
		Metadata: map[string]MetadataValue{"k": Str("v")},
	}
	clone := n.Clone()
	clone.Vector[0] = 99
	clone.Data[0] = 99
	clone.Metadata["k"] = Str("mutated")

	require.Equal(t, float32(1), n.Vector[0])
	require.Equal(t, byte(1), n.Data[0])
	require.Equal(t, Str("v"), n.Metadata["k"])
}

func TestNounTypeRoundTrip(t *testing.T) {
	for i := 0; i < NounTypeCount(); i++ {
		nt := NounType(i)
		parsed, ok := ParseNounType(nt.String())
		require.True(t, ok)
		require.Equal(t, nt, parsed)
	}
	require.Equal(t, "Unknown", NounType(255).String())
	_, ok := ParseNounType("NoSuchType")
	require.False(t, ok)
}

func TestVerbTypeRoundTrip(t *testing.T) {
	for i := 0; i < VerbTypeCount(); i++ {
		vt := VerbType(i)
		parsed, ok := ParseVerbType(vt.String())
		require.True(t, ok)
		require.Equal(t, vt, parsed)
	}
}

func TestVerbValidate(t *testing.T) {
	v := &Verb{ID: "v1", Source: "a", Target: "b", Weight: 0.5, CreatedAt: time.Now()}
	require.NoError(t, v.Validate())

	require.ErrorIs(t, (&Verb{Source: "a", Target: "b"}).Validate(), ErrValidation)
	require.ErrorIs(t, (&Verb{ID: "v", Source: "a", Target: "b", Weight: 2}).Validate(), ErrValidation)
}

func TestVerbKey(t *testing.T) {
	v := &Verb{ID: "v1", Source: "a", Target: "b", Type: VerbKnows()}
	require.Equal(t, VerbKey{Source: "a", Target: "b", Type: VerbKnows()}, v.Key())
}

// VerbKnows is a small local helper picking a stable VerbType for the key
// test above without hard-coding an enum ordinal inline.
func VerbKnows() VerbType { return VerbRelatesTo }

func TestVerbCloneIsDeep(t *testing.T) {
	v := &Verb{ID: "v1", Vector: []float32{1, 2}, Metadata: map[string]MetadataValue{"k": Int(1)}}
	clone := v.Clone()
	clone.Vector[0] = 9
	clone.Metadata["k"] = Int(2)
	require.Equal(t, float32(1), v.Vector[0])
	require.Equal(t, Int(1), v.Metadata["k"])
}

func TestMetadataValueCompare(t *testing.T) {
	lt, err := Compare(Int(1), Int(2))
	require.NoError(t, err)
	require.Equal(t, -1, lt)

	gt, err := Compare(Str("b"), Str("a"))
	require.NoError(t, err)
	require.Equal(t, 1, gt)

	eq, err := Compare(Float(1.5), Float(1.5))
	require.NoError(t, err)
	require.Equal(t, 0, eq)

	_, err = Compare(Int(1), Str("a"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = Compare(Array(nil), Array(nil))
	require.ErrorIs(t, err, ErrValidation)
}

func TestMetadataValueEqual(t *testing.T) {
	require.True(t, Equal(Null(), Null()))
	require.True(t, Equal(Bytes([]byte{1, 2}), Bytes([]byte{1, 2})))
	require.False(t, Equal(Bytes([]byte{1}), Bytes([]byte{1, 2})))
	require.True(t, Equal(Array([]MetadataValue{Int(1)}), Array([]MetadataValue{Int(1)})))
	require.False(t, Equal(Array([]MetadataValue{Int(1)}), Array([]MetadataValue{Int(2)})))
	require.True(t, Equal(Object(map[string]MetadataValue{"a": Int(1)}), Object(map[string]MetadataValue{"a": Int(1)})))
	require.False(t, Equal(Int(1), Str("1")))
}

func TestMetadataValueJSONRoundTrip(t *testing.T) {
	in := Object(map[string]MetadataValue{
		"name":   Str("alice"),
		"age":    Int(30),
		"score":  Float(1.5),
		"active": Bool(true),
		"tags":   Array([]MetadataValue{Str("a"), Str("b")}),
		"empty":  Null(),
	})
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out MetadataValue
	require.NoError(t, json.Unmarshal(data, &out))
	require.True(t, Equal(in, out))
}

func TestMetadataValueUnmarshalInfersIntVsFloat(t *testing.T) {
	var whole MetadataValue
	require.NoError(t, json.Unmarshal([]byte("5"), &whole))
	require.Equal(t, MetaInt, whole.Kind)
	require.Equal(t, int64(5), whole.Int)

	var frac MetadataValue
	require.NoError(t, json.Unmarshal([]byte("5.5"), &frac))
	require.Equal(t, MetaFloat, frac.Kind)
	require.Equal(t, 5.5, frac.Float)
}
