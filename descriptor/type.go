package descriptor

import (
	"strconv"
	"strings"

	"github.com/wippyai/ffi-runtime/errors"
)

// UnknownLength marks an array whose length is taken from the value at
// encode time. Such arrays cannot be decoded.
const UnknownLength = -1

// MaxCallbackParams is the largest callback arity a descriptor may declare.
const MaxCallbackParams = 32

// Type describes the native shape of one value.
// The set of implementations is closed: Primitive, *Array, *Struct,
// *StructArray and *Callback.
type Type interface {
	Kind() Kind
	String() string
	sealed()
}

// Primitive is a leaf descriptor.
type Primitive struct {
	kind Kind
}

var (
	Void        = Primitive{KindVoid}
	Bool        = Primitive{KindBool}
	U8          = Primitive{KindU8}
	I16         = Primitive{KindI16}
	I32         = Primitive{KindI32}
	I64         = Primitive{KindI64}
	U32         = Primitive{KindU32}
	U64         = Primitive{KindU64}
	F32         = Primitive{KindF32}
	F64         = Primitive{KindF64}
	Pointer     = Primitive{KindPointer}
	CString     = Primitive{KindCString}
	WideCString = Primitive{KindWideCString}
)

func (p Primitive) Kind() Kind     { return p.kind }
func (p Primitive) String() string { return p.kind.String() }
func (Primitive) sealed()          {}

// Array is a run of primitive elements.
type Array struct {
	Elem    Primitive
	Len     int
	Storage Storage
}

// NewArray validates and builds an array descriptor.
func NewArray(elem Primitive, length int, storage Storage) (*Array, error) {
	if elem.kind == KindVoid || !elem.kind.IsPrimitive() {
		return nil, errors.InvalidInput(errors.PhaseClassify, "array element must be a non-void primitive")
	}
	if length < UnknownLength {
		return nil, errors.InvalidInput(errors.PhaseClassify, "negative array length "+strconv.Itoa(length))
	}
	if storage == Inline && length == UnknownLength {
		return nil, errors.InvalidInput(errors.PhaseClassify, "inline array needs a fixed length")
	}
	return &Array{Elem: elem, Len: length, Storage: storage}, nil
}

func (a *Array) Kind() Kind { return KindArray }
func (*Array) sealed()      {}

// HasLength reports whether the array carries a declared length.
func (a *Array) HasLength() bool { return a.Len >= 0 }

func (a *Array) String() string {
	var b strings.Builder
	if a.Storage == Indirect {
		b.WriteByte('*')
	}
	b.WriteByte('[')
	if a.HasLength() {
		b.WriteString(strconv.Itoa(a.Len))
	}
	b.WriteByte(']')
	b.WriteString(a.Elem.String())
	return b.String()
}

// Field is one named member of a struct.
type Field struct {
	Name string
	Type Type
}

// Struct is an ordered list of fields laid out in declaration order.
type Struct struct {
	Fields  []Field
	Storage Storage
}

// NewStruct validates and builds a struct descriptor. Field order is kept.
func NewStruct(storage Storage, fields ...Field) (*Struct, error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, errors.InvalidInput(errors.PhaseClassify, "struct field without a name")
		}
		if f.Name == TagKey {
			return nil, errors.New(errors.PhaseClassify, errors.KindInvalidInput).
				Path(f.Name).
				Detail("field name collides with the reserved tag key").
				Build()
		}
		if _, dup := seen[f.Name]; dup {
			return nil, errors.New(errors.PhaseClassify, errors.KindInvalidInput).
				Path(f.Name).
				Detail("duplicate field name").
				Build()
		}
		seen[f.Name] = struct{}{}
		if f.Type == nil || f.Type.Kind() == KindVoid {
			return nil, errors.New(errors.PhaseClassify, errors.KindInvalidInput).
				Path(f.Name).
				Detail("struct field must have a non-void type").
				Build()
		}
	}
	return &Struct{Fields: fields, Storage: storage}, nil
}

// MustStruct is NewStruct for descriptors known to be valid, such as
// package-level tables in tests and examples.
func MustStruct(storage Storage, fields ...Field) *Struct {
	s, err := NewStruct(storage, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Struct) Kind() Kind { return KindStruct }
func (*Struct) sealed()      {}

// Lookup returns the field called name and its position.
func (s *Struct) Lookup(name string) (Field, int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return Field{}, -1, false
}

func (s *Struct) String() string {
	var b strings.Builder
	if s.Storage == Indirect {
		b.WriteByte('*')
	}
	b.WriteString("struct{")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteByte(' ')
		b.WriteString(f.Type.String())
	}
	b.WriteByte('}')
	return b.String()
}

// StructArray is a run of struct items. The array's Storage decides whether
// the run is embedded in the parent; the item's Storage decides whether each
// slot holds the item itself or a pointer to it.
type StructArray struct {
	Item    *Struct
	Len     int
	Storage Storage
}

// NewStructArray validates and builds a struct array descriptor.
func NewStructArray(item *Struct, length int, storage Storage) (*StructArray, error) {
	if item == nil {
		return nil, errors.InvalidInput(errors.PhaseClassify, "struct array without an item type")
	}
	if length < UnknownLength {
		return nil, errors.InvalidInput(errors.PhaseClassify, "negative array length "+strconv.Itoa(length))
	}
	if storage == Inline && length == UnknownLength {
		return nil, errors.InvalidInput(errors.PhaseClassify, "inline array needs a fixed length")
	}
	return &StructArray{Item: item, Len: length, Storage: storage}, nil
}

func (a *StructArray) Kind() Kind { return KindStructArray }
func (*StructArray) sealed()      {}

// HasLength reports whether the array carries a declared length.
func (a *StructArray) HasLength() bool { return a.Len >= 0 }

func (a *StructArray) String() string {
	var b strings.Builder
	if a.Storage == Indirect {
		b.WriteByte('*')
	}
	b.WriteByte('[')
	if a.HasLength() {
		b.WriteString(strconv.Itoa(a.Len))
	}
	b.WriteByte(']')
	b.WriteString(a.Item.String())
	return b.String()
}

// Callback is the signature of a Go function exposed to native code.
type Callback struct {
	Params []Type
	Return Type
	Mode   DeliveryMode
}

// NewCallback validates and builds a callback signature. A nil ret means void.
func NewCallback(params []Type, ret Type, mode DeliveryMode) (*Callback, error) {
	if len(params) > MaxCallbackParams {
		return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Detail("callback arity %d exceeds maximum %d", len(params), MaxCallbackParams).
			Build()
	}
	for i, p := range params {
		path := "param[" + strconv.Itoa(i) + "]"
		if p == nil || p.Kind() == KindVoid {
			return nil, errors.New(errors.PhaseClassify, errors.KindInvalidInput).
				Path(path).
				Detail("callback parameter must have a non-void type").
				Build()
		}
		if st, ok := p.(*Struct); ok && st.Storage == Inline {
			return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
				Path(path).
				Detail("callback parameters carry structs by pointer only").
				Build()
		}
		if p.Kind() == KindCallback {
			return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
				Path(path).
				Detail("callback parameters cannot be callbacks; declare a pointer").
				Build()
		}
	}
	if ret == nil {
		ret = Void
	}
	if !ret.Kind().IsPrimitive() {
		return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Path("return").
			Detail("callback return must be a primitive, got %s", ret).
			Build()
	}
	return &Callback{Params: params, Return: ret, Mode: mode}, nil
}

func (c *Callback) Kind() Kind { return KindCallback }
func (*Callback) sealed()      {}

// Arity is the number of declared parameters.
func (c *Callback) Arity() int { return len(c.Params) }

func (c *Callback) String() string {
	var b strings.Builder
	b.WriteString("func(")
	for i, p := range c.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	if c.Return != nil && c.Return.Kind() != KindVoid {
		b.WriteByte(' ')
		b.WriteString(c.Return.String())
	}
	if c.Mode == Blocking {
		b.WriteString(" blocking")
	}
	return b.String()
}
