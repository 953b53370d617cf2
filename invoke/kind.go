package invoke

import (
	"github.com/jupiterrider/ffi"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
)

// NativeKind is the libffi type of one argument or return value.
type NativeKind struct {
	typ  *ffi.Type
	name string
	// keep holds element arrays of struct types alive.
	keep [][]*ffi.Type
}

var (
	Void    = NativeKind{typ: &ffi.TypeVoid, name: "void"}
	Uint8   = NativeKind{typ: &ffi.TypeUint8, name: "u8"}
	Sint16  = NativeKind{typ: &ffi.TypeSint16, name: "i16"}
	Sint32  = NativeKind{typ: &ffi.TypeSint32, name: "i32"}
	Uint32  = NativeKind{typ: &ffi.TypeUint32, name: "u32"}
	Sint64  = NativeKind{typ: &ffi.TypeSint64, name: "i64"}
	Uint64  = NativeKind{typ: &ffi.TypeUint64, name: "u64"}
	Float   = NativeKind{typ: &ffi.TypeFloat, name: "f32"}
	Double  = NativeKind{typ: &ffi.TypeDouble, name: "f64"}
	Pointer = NativeKind{typ: &ffi.TypePointer, name: "pointer"}
)

var primitiveKinds = map[descriptor.Kind]NativeKind{
	descriptor.KindVoid:        Void,
	descriptor.KindBool:        Uint8,
	descriptor.KindU8:          Uint8,
	descriptor.KindI16:         Sint16,
	descriptor.KindI32:         Sint32,
	descriptor.KindU32:         Uint32,
	descriptor.KindI64:         Sint64,
	descriptor.KindU64:         Uint64,
	descriptor.KindF32:         Float,
	descriptor.KindF64:         Double,
	descriptor.KindPointer:     Pointer,
	descriptor.KindCString:     Pointer,
	descriptor.KindWideCString: Pointer,
	descriptor.KindCallback:    Pointer,
}

// Type returns the underlying libffi type.
func (k NativeKind) Type() *ffi.Type { return k.typ }

func (k NativeKind) String() string { return k.name }

// IsVoid reports whether k is the void type.
func (k NativeKind) IsVoid() bool { return k.typ == &ffi.TypeVoid }

// Size is valid for struct kinds only after a Prepare call laid them out.
func (k NativeKind) Size() uintptr {
	if k.typ == nil {
		return 0
	}
	return uintptr(k.typ.Size)
}

// KindOf derives the calling-convention kind of a descriptor. Inline
// structs become libffi struct types with inline arrays expanded into
// repeated elements; every indirect composite is a pointer.
func KindOf(t descriptor.Type) (NativeKind, error) {
	if t == nil {
		return NativeKind{}, errors.InvalidInput(errors.PhaseInvoke, "nil descriptor")
	}
	if k, ok := primitiveKinds[t.Kind()]; ok {
		return k, nil
	}
	s, ok := t.(*descriptor.Struct)
	if !ok || s.Storage != descriptor.Inline {
		// Arrays and indirect structs decay to a pointer.
		return Pointer, nil
	}
	return structKind(s)
}

// ClosureKindOf is the kind a closure declares for a callback parameter:
// scalars travel as themselves, everything else as one pointer word.
func ClosureKindOf(t descriptor.Type) (NativeKind, error) {
	if t == nil {
		return NativeKind{}, errors.InvalidInput(errors.PhaseCallback, "nil descriptor")
	}
	if p, ok := t.(descriptor.Primitive); ok {
		return primitiveKinds[p.Kind()], nil
	}
	return Pointer, nil
}

func structKind(s *descriptor.Struct) (NativeKind, error) {
	if len(s.Fields) == 0 {
		return NativeKind{}, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
			NativeType(s.String()).
			Detail("empty structs cannot be passed by value").
			Build()
	}
	var (
		elems []*ffi.Type
		keep  [][]*ffi.Type
	)
	add := func(k NativeKind, n int) {
		for i := 0; i < n; i++ {
			elems = append(elems, k.typ)
		}
		keep = append(keep, k.keep...)
	}

	for _, f := range s.Fields {
		switch ft := f.Type.(type) {
		case *descriptor.Array:
			if ft.Storage == descriptor.Inline {
				add(primitiveKinds[ft.Elem.Kind()], ft.Len)
				continue
			}
		case *descriptor.StructArray:
			if ft.Storage == descriptor.Inline {
				item, err := KindOf(ft.Item)
				if err != nil {
					return NativeKind{}, err
				}
				add(item, ft.Len)
				continue
			}
		}
		k, err := KindOf(f.Type)
		if err != nil {
			return NativeKind{}, err
		}
		add(k, 1)
	}

	elems = append(elems, nil)
	keep = append(keep, elems)
	typ := &ffi.Type{Type: ffi.Struct, Elements: &elems[0]}
	return NativeKind{typ: typ, name: s.String(), keep: keep}, nil
}
