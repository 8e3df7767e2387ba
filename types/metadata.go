package types

import (
	"encoding/json"
	"fmt"
)

// MetadataKind discriminates the variant held by a MetadataValue.
type MetadataKind uint8

const (
	MetaNull MetadataKind = iota
	MetaBool
	MetaInt
	MetaFloat
	MetaStr
	MetaBytes
	MetaArray
	MetaObject
)

func (k MetadataKind) String() string {
	switch k {
	case MetaNull:
		return "null"
	case MetaBool:
		return "bool"
	case MetaInt:
		return "int"
	case MetaFloat:
		return "float"
	case MetaStr:
		return "str"
	case MetaBytes:
		return "bytes"
	case MetaArray:
		return "array"
	case MetaObject:
		return "object"
	default:
		return "unknown"
	}
}

// MetadataValue is a closed sum type for values stored in a Noun or Verb's
// metadata map. Keeping this typed, rather than a bare interface{}, lets the
// metadata index do typed range and negation comparisons without runtime
// type assertions scattered across the query path.
type MetadataValue struct {
	Kind  MetadataKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	Array []MetadataValue
	Object map[string]MetadataValue
}

func Null() MetadataValue                  { return MetadataValue{Kind: MetaNull} }
func Bool(b bool) MetadataValue             { return MetadataValue{Kind: MetaBool, Bool: b} }
func Int(i int64) MetadataValue             { return MetadataValue{Kind: MetaInt, Int: i} }
func Float(f float64) MetadataValue         { return MetadataValue{Kind: MetaFloat, Float: f} }
func Str(s string) MetadataValue            { return MetadataValue{Kind: MetaStr, Str: s} }
func Bytes(b []byte) MetadataValue          { return MetadataValue{Kind: MetaBytes, Bytes: b} }
func Array(vs []MetadataValue) MetadataValue {
	return MetadataValue{Kind: MetaArray, Array: vs}
}
func Object(m map[string]MetadataValue) MetadataValue {
	return MetadataValue{Kind: MetaObject, Object: m}
}

// Compare orders two MetadataValues of the same Kind; used by the metadata
// index's range queries. Returns an error if the kinds differ or the kind
// has no total order (Null, Bytes, Array, Object).
func Compare(a, b MetadataValue) (int, error) {
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("%w: cannot compare %s to %s", ErrValidation, a.Kind, b.Kind)
	}
	switch a.Kind {
	case MetaInt:
		switch {
		case a.Int < b.Int:
			return -1, nil
		case a.Int > b.Int:
			return 1, nil
		default:
			return 0, nil
		}
	case MetaFloat:
		switch {
		case a.Float < b.Float:
			return -1, nil
		case a.Float > b.Float:
			return 1, nil
		default:
			return 0, nil
		}
	case MetaStr:
		switch {
		case a.Str < b.Str:
			return -1, nil
		case a.Str > b.Str:
			return 1, nil
		default:
			return 0, nil
		}
	case MetaBool:
		if a.Bool == b.Bool {
			return 0, nil
		}
		if !a.Bool {
			return -1, nil
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: kind %s has no total order", ErrValidation, a.Kind)
	}
}

// Equal reports whether two MetadataValues are structurally identical.
func Equal(a, b MetadataValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case MetaNull:
		return true
	case MetaBool:
		return a.Bool == b.Bool
	case MetaInt:
		return a.Int == b.Int
	case MetaFloat:
		return a.Float == b.Float
	case MetaStr:
		return a.Str == b.Str
	case MetaBytes:
		if len(a.Bytes) != len(b.Bytes) {
			return false
		}
		for i := range a.Bytes {
			if a.Bytes[i] != b.Bytes[i] {
				return false
			}
		}
		return true
	case MetaArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case MetaObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON renders a MetadataValue as its natural JSON shape rather than
// exposing the Kind tag, so persisted blobs stay readable by external tools.
func (v MetadataValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case MetaNull:
		return []byte("null"), nil
	case MetaBool:
		return json.Marshal(v.Bool)
	case MetaInt:
		return json.Marshal(v.Int)
	case MetaFloat:
		return json.Marshal(v.Float)
	case MetaStr:
		return json.Marshal(v.Str)
	case MetaBytes:
		return json.Marshal(v.Bytes)
	case MetaArray:
		return json.Marshal(v.Array)
	case MetaObject:
		return json.Marshal(v.Object)
	default:
		return nil, fmt.Errorf("%w: unknown metadata kind %d", ErrValidation, v.Kind)
	}
}

// UnmarshalJSON infers the Kind from the JSON token shape. Numbers whose
// value is a whole number (5, 5.0, 1e3) become MetaInt; the rest become
// MetaFloat.
func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw interface{}) MetadataValue {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case string:
		return Str(t)
	case []interface{}:
		out := make([]MetadataValue, len(t))
		for i, e := range t {
			out[i] = fromAny(e)
		}
		return Array(out)
	case map[string]interface{}:
		out := make(map[string]MetadataValue, len(t))
		for k, e := range t {
			out[k] = fromAny(e)
		}
		return Object(out)
	default:
		return Null()
	}
}
