package descriptor

import (
	"math"
	"strings"

	"fortio.org/safecast"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/ffi-runtime/errors"
)

// Numeric type tags understood by Classify. The values are part of the
// descriptor document format and must not be renumbered.
const (
	TagCString     = 0
	TagI32         = 1
	TagF64         = 2
	TagI32Array    = 3
	TagStringArray = 4
	TagF64Array    = 5
	TagBool        = 6
	TagVoid        = 7
	TagI64         = 8
	TagU8          = 9
	TagU8Array     = 10
	TagPointer     = 11
	TagU64         = 12
	TagF32Array    = 13
	TagF32         = 14
	TagWideCString = 15
	TagBigInt      = 16

	// TagStackStruct is reserved for marking inline structs in documents.
	TagStackStruct = 999
)

var numericTags = map[int]Type{
	TagCString:     CString,
	TagI32:         I32,
	TagF64:         F64,
	TagI32Array:    &Array{Elem: I32, Len: UnknownLength},
	TagStringArray: &Array{Elem: CString, Len: UnknownLength},
	TagF64Array:    &Array{Elem: F64, Len: UnknownLength},
	TagBool:        Bool,
	TagVoid:        Void,
	TagI64:         I64,
	TagU8:          U8,
	TagU8Array:     &Array{Elem: U8, Len: UnknownLength},
	TagPointer:     Pointer,
	TagU64:         U64,
	TagF32Array:    &Array{Elem: F32, Len: UnknownLength},
	TagF32:         F32,
	TagWideCString: WideCString,
	TagBigInt:      I64,
}

var namedTags = map[string]Type{
	"void":     Void,
	"bool":     Bool,
	"boolean":  Bool,
	"u8":       U8,
	"i16":      I16,
	"i32":      I32,
	"int":      I32,
	"i64":      I64,
	"bigint":   I64,
	"u32":      U32,
	"u64":      U64,
	"f32":      F32,
	"float":    F32,
	"f64":      F64,
	"double":   F64,
	"pointer":  Pointer,
	"external": Pointer,
	"string":   CString,
	"cstring":  CString,
	"wstring":  WideCString,
}

// Classify resolves an opaque leaf tag, either a numeric tag or a type name,
// into a descriptor. Unknown tags are an error, never a default.
func Classify(tag any) (Type, error) {
	switch v := tag.(type) {
	case Type:
		return v, nil
	case string:
		t, ok := namedTags[strings.ToLower(strings.TrimSpace(v))]
		if !ok {
			return nil, errors.UnknownTag(v)
		}
		return t, nil
	}

	n, ok := tagNumber(tag)
	if !ok {
		return nil, errors.UnknownTag(tag)
	}
	if n == TagStackStruct {
		return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Value(n).
			Detail("tag %d only marks inline structs inside a struct document", n).
			Build()
	}
	t, ok := numericTags[n]
	if !ok {
		return nil, errors.UnknownTag(n)
	}
	if a, isArray := t.(*Array); isArray {
		// Fresh copy so callers can set a length.
		cp := *a
		return &cp, nil
	}
	return t, nil
}

func tagNumber(v any) (int, bool) {
	var (
		n   int
		err error
	)
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		n, err = safecast.Conv[int](x)
	case int16:
		n, err = safecast.Conv[int](x)
	case int32:
		n, err = safecast.Conv[int](x)
	case int64:
		n, err = safecast.Conv[int](x)
	case uint:
		n, err = safecast.Conv[int](x)
	case uint8:
		n, err = safecast.Conv[int](x)
	case uint16:
		n, err = safecast.Conv[int](x)
	case uint32:
		n, err = safecast.Conv[int](x)
	case uint64:
		n, err = safecast.Conv[int](x)
	case float32:
		if float64(x) != math.Trunc(float64(x)) {
			return 0, false
		}
		n, err = safecast.Convert[int](x)
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		n, err = safecast.Convert[int](x)
	default:
		return 0, false
	}
	return n, err == nil
}

// IsArrayDescriptor reports whether doc is an array document. Only the
// reserved tag key is consulted, never the shape of the other entries.
func IsArrayDescriptor(doc any) bool {
	tag, ok := documentTag(doc)
	return ok && tag == tagArray
}

// IsCallbackDescriptor reports whether doc is a function document.
func IsCallbackDescriptor(doc any) bool {
	tag, ok := documentTag(doc)
	return ok && tag == tagFunction
}

func documentTag(doc any) (string, bool) {
	var raw any
	switch d := doc.(type) {
	case *orderedmap.OrderedMap[string, any]:
		if d == nil {
			return "", false
		}
		v, ok := d.Get(TagKey)
		if !ok {
			return "", false
		}
		raw = v
	case map[string]any:
		v, ok := d[TagKey]
		if !ok {
			return "", false
		}
		raw = v
	default:
		return "", false
	}
	if s, ok := raw.(string); ok {
		return s, true
	}
	if n, ok := tagNumber(raw); ok && n == TagStackStruct {
		return tagStackStruct, true
	}
	return "", false
}

// StructStorage reports how a struct or struct array is placed in its parent.
func StructStorage(t Type) (Storage, bool) {
	switch v := t.(type) {
	case *Struct:
		return v.Storage, true
	case *StructArray:
		return v.Storage, true
	default:
		return Indirect, false
	}
}
