package transcoder

import (
	"encoding/binary"
	"math"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/transcoder/internal/abi"
)

// Viewer is implemented by memories that can alias native bytes without
// copying them.
type Viewer interface {
	View(addr uintptr, length uintptr) ([]byte, error)
}

// Strlener is implemented by memories that scan for NUL terminators
// natively.
type Strlener interface {
	Strlen(addr uintptr, limit uintptr) (uintptr, error)
}

// Decoder reads native memory into host values following a descriptor.
// It never takes ownership of what it reads.
type Decoder struct {
	mem          Memory
	layout       *LayoutCalculator
	zeroCopy     bool
	callbackSafe bool
}

type DecoderOption func(*Decoder)

// WithDecoderLayout shares a layout cache with an encoder.
func WithDecoderLayout(lc *LayoutCalculator) DecoderOption {
	return func(d *Decoder) { d.layout = lc }
}

// WithZeroCopyBytes returns byte arrays that alias native memory.
// The caller must not use them after the native block is freed.
func WithZeroCopyBytes() DecoderOption {
	return func(d *Decoder) { d.zeroCopy = true }
}

// CallbackSafe forces byte arrays to be copied even with zero-copy on.
// Use it when decoding arguments of native-originated calls, whose memory
// is only valid for the duration of the call.
func CallbackSafe() DecoderOption {
	return func(d *Decoder) { d.callbackSafe = true }
}

func NewDecoder(mem Memory, opts ...DecoderOption) *Decoder {
	d := &Decoder{mem: mem}
	for _, opt := range opts {
		opt(d)
	}
	if d.layout == nil {
		d.layout = NewLayoutCalculator()
	}
	return d
}

// Decode reads the block of t held by region. A Word region is decoded
// from its bits as an argument word.
func (d *Decoder) Decode(t descriptor.Type, region Region) (any, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseDecode, "nil descriptor")
	}
	if region.Ownership == Word {
		return d.decodeWord(t, region.Addr, nil)
	}
	if t.Kind() == descriptor.KindVoid {
		return nil, nil
	}
	if region.Addr == 0 {
		return nil, errors.NilPointer(errors.PhaseDecode, nil, t.String())
	}
	return d.readBlock(t, region.Addr, nil)
}

// DecodeArg reads an argument slot or return buffer as laid out by
// Encoder.EncodeArg: inline structs by value, other composites by pointer.
func (d *Decoder) DecodeArg(t descriptor.Type, region Region) (any, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseDecode, "nil descriptor")
	}
	if region.Ownership == Word {
		return d.decodeWord(t, region.Addr, nil)
	}
	if t.Kind() == descriptor.KindVoid {
		return nil, nil
	}
	if region.Addr == 0 {
		return nil, errors.NilPointer(errors.PhaseDecode, nil, t.String())
	}
	switch typ := t.(type) {
	case *descriptor.Struct:
		if typ.Storage == descriptor.Inline {
			return d.readBlock(typ, region.Addr, nil)
		}
	case *descriptor.Array, *descriptor.StructArray:
		return d.readIndirect(t, region.Addr, nil)
	}
	return d.readField(t, region.Addr, nil)
}

// decodeWord interprets a raw argument word. Scalars come from the low
// bits; pointer-carrying kinds dereference it.
func (d *Decoder) decodeWord(t descriptor.Type, word uintptr, path []string) (any, error) {
	switch typ := t.(type) {
	case descriptor.Primitive:
		return scalarFromWord(typ.Kind(), uint64(word), d, path)
	case *descriptor.Callback:
		return ffiruntime.Pointer(word), nil
	case *descriptor.Struct:
		if typ.Storage == descriptor.Inline {
			return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
				Path(path...).
				NativeType(t.String()).
				Detail("inline structs do not fit in an argument word").
				Build()
		}
	}
	if word == 0 {
		return nil, nil
	}
	return d.readBlock(t, word, path)
}

func scalarFromWord(kind descriptor.Kind, w uint64, d *Decoder, path []string) (any, error) {
	switch kind {
	case descriptor.KindVoid:
		return nil, nil
	case descriptor.KindBool:
		return uint8(w) != 0, nil
	case descriptor.KindU8:
		return uint8(w), nil
	case descriptor.KindI16:
		return int16(w), nil
	case descriptor.KindI32:
		return int32(w), nil
	case descriptor.KindU32:
		return uint32(w), nil
	case descriptor.KindI64:
		return int64(w), nil
	case descriptor.KindU64:
		return w, nil
	case descriptor.KindF32:
		return math.Float32frombits(uint32(w)), nil
	case descriptor.KindF64:
		return math.Float64frombits(w), nil
	case descriptor.KindPointer:
		return ffiruntime.Pointer(uintptr(w)), nil
	case descriptor.KindCString:
		return d.readCString(uintptr(w), path)
	case descriptor.KindWideCString:
		return d.readWideCString(uintptr(w), path)
	}
	return nil, errors.Unsupported(errors.PhaseDecode, "kind "+kind.String())
}

// readBlock reads the contents of t at addr regardless of t's storage.
func (d *Decoder) readBlock(t descriptor.Type, addr uintptr, path []string) (any, error) {
	switch typ := t.(type) {
	case *descriptor.Struct:
		return d.readStruct(typ, addr, path)
	case *descriptor.Array:
		return d.readArray(typ, addr, path)
	case *descriptor.StructArray:
		return d.readStructArray(typ, addr, path)
	default:
		return d.readField(t, addr, path)
	}
}

// readField reads a value embedded in a parent block.
func (d *Decoder) readField(t descriptor.Type, addr uintptr, path []string) (any, error) {
	switch typ := t.(type) {
	case descriptor.Primitive:
		return d.readPrimitive(typ.Kind(), addr, path)
	case *descriptor.Callback:
		p, err := d.readPointer(addr)
		return ffiruntime.Pointer(p), err
	}
	if storage, _ := storageOf(t); storage == descriptor.Inline {
		return d.readBlock(t, addr, path)
	}
	return d.readIndirect(t, addr, path)
}

func (d *Decoder) readIndirect(t descriptor.Type, addr uintptr, path []string) (any, error) {
	p, err := d.readPointer(addr)
	if err != nil {
		return nil, err
	}
	if p == 0 {
		return nil, nil
	}
	return d.readBlock(t, p, path)
}

func (d *Decoder) readPointer(addr uintptr) (uintptr, error) {
	if abi.PtrSize == 4 {
		v, err := d.mem.ReadU32(addr)
		return uintptr(v), err
	}
	v, err := d.mem.ReadU64(addr)
	return uintptr(v), err
}

func (d *Decoder) readPrimitive(kind descriptor.Kind, addr uintptr, path []string) (any, error) {
	switch kind {
	case descriptor.KindBool:
		v, err := d.mem.ReadU8(addr)
		return v != 0, err
	case descriptor.KindU8:
		return d.mem.ReadU8(addr)
	case descriptor.KindI16:
		v, err := d.mem.ReadU16(addr)
		return int16(v), err
	case descriptor.KindI32:
		v, err := d.mem.ReadU32(addr)
		return int32(v), err
	case descriptor.KindU32:
		return d.mem.ReadU32(addr)
	case descriptor.KindI64:
		v, err := d.mem.ReadU64(addr)
		return int64(v), err
	case descriptor.KindU64:
		return d.mem.ReadU64(addr)
	case descriptor.KindF32:
		v, err := d.mem.ReadU32(addr)
		return math.Float32frombits(v), err
	case descriptor.KindF64:
		v, err := d.mem.ReadU64(addr)
		return math.Float64frombits(v), err
	case descriptor.KindPointer:
		p, err := d.readPointer(addr)
		return ffiruntime.Pointer(p), err
	case descriptor.KindCString, descriptor.KindWideCString:
		p, err := d.readPointer(addr)
		if err != nil {
			return nil, err
		}
		if kind == descriptor.KindWideCString {
			return d.readWideCString(p, path)
		}
		return d.readCString(p, path)
	case descriptor.KindVoid:
		return nil, nil
	}
	return nil, errors.Unsupported(errors.PhaseDecode, "kind "+kind.String())
}

// readCString copies a NUL-terminated string. The null pointer reads as nil.
func (d *Decoder) readCString(addr uintptr, path []string) (any, error) {
	if addr == 0 {
		return nil, nil
	}
	var n uintptr
	if s, ok := d.mem.(Strlener); ok {
		var err error
		n, err = s.Strlen(addr, MaxStringSize)
		if err != nil {
			return nil, err
		}
	} else {
		for ; ; n++ {
			if n >= MaxStringSize {
				return nil, errors.New(errors.PhaseDecode, errors.KindOverflow).
					Path(path...).
					Detail("string exceeds maximum %d bytes", MaxStringSize).
					Build()
			}
			b, err := d.mem.ReadU8(addr + n)
			if err != nil {
				return nil, err
			}
			if b == 0 {
				break
			}
		}
	}
	data, err := d.mem.Read(addr, n)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (d *Decoder) readWideCString(addr uintptr, path []string) (any, error) {
	if addr == 0 {
		return nil, nil
	}
	var n uintptr
	for ; ; n += abi.WcharSize {
		if n >= MaxStringSize {
			return nil, errors.New(errors.PhaseDecode, errors.KindOverflow).
				Path(path...).
				Detail("wide string exceeds maximum %d bytes", MaxStringSize).
				Build()
		}
		unit, err := d.mem.Read(addr+n, abi.WcharSize)
		if err != nil {
			return nil, err
		}
		if abi.WideLen(unit) == 0 {
			break
		}
	}
	data, err := d.mem.Read(addr, n)
	if err != nil {
		return nil, err
	}
	s, err := abi.DecodeWide(data)
	if err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(path...).
			Cause(err).
			Detail("invalid wchar_t string").
			Build()
	}
	return s, nil
}

func (d *Decoder) readStruct(s *descriptor.Struct, addr uintptr, path []string) (any, error) {
	info, err := d.layout.Block(s)
	if err != nil {
		return nil, err
	}
	out := orderedmap.New[string, any](orderedmap.WithCapacity[string, any](len(s.Fields)))
	for i, field := range s.Fields {
		v, err := d.readField(field.Type, addr+info.Offsets[i], appendPath(path, field.Name))
		if err != nil {
			return nil, err
		}
		out.Set(field.Name, v)
	}
	return out, nil
}

// readArray returns a typed slice. String arrays come back as []string,
// so a NULL element reads as ""; decode the elements as Pointer to tell
// the two apart.
func (d *Decoder) readArray(a *descriptor.Array, addr uintptr, path []string) (any, error) {
	if !a.HasLength() {
		return nil, errors.LengthRequired(path, a.String())
	}
	if a.Len > MaxArrayLength {
		return nil, errors.New(errors.PhaseDecode, errors.KindOverflow).
			Path(path...).
			Detail("array length %d exceeds maximum %d", a.Len, MaxArrayLength).
			Build()
	}
	n := a.Len
	info, err := d.layout.Sized(a, n)
	if err != nil {
		return nil, err
	}

	kind := a.Elem.Kind()
	if kind.IsString() {
		out := make([]string, n)
		for i := 0; i < n; i++ {
			v, err := d.readPrimitive(kind, addr+uintptr(i)*info.Stride, appendPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			if s, ok := v.(string); ok {
				out[i] = s
			}
		}
		return out, nil
	}

	if kind == descriptor.KindU8 {
		return d.readBytes(addr, info.Size)
	}

	data, err := d.mem.Read(addr, info.Size)
	if err != nil {
		return nil, err
	}
	return sliceOf(kind, data, n, info.Stride)
}

func (d *Decoder) readBytes(addr, n uintptr) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if d.zeroCopy && !d.callbackSafe {
		if v, ok := d.mem.(Viewer); ok {
			return v.View(addr, n)
		}
	}
	return d.mem.Read(addr, n)
}

// sliceOf converts packed little-endian elements into a typed slice.
func sliceOf(kind descriptor.Kind, data []byte, n int, stride uintptr) (any, error) {
	le := binary.LittleEndian
	at := func(i int) []byte { return data[uintptr(i)*stride:] }
	switch kind {
	case descriptor.KindBool:
		out := make([]bool, n)
		for i := range out {
			out[i] = at(i)[0] != 0
		}
		return out, nil
	case descriptor.KindI16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(le.Uint16(at(i)))
		}
		return out, nil
	case descriptor.KindI32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(le.Uint32(at(i)))
		}
		return out, nil
	case descriptor.KindU32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = le.Uint32(at(i))
		}
		return out, nil
	case descriptor.KindI64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(le.Uint64(at(i)))
		}
		return out, nil
	case descriptor.KindU64:
		out := make([]uint64, n)
		for i := range out {
			out[i] = le.Uint64(at(i))
		}
		return out, nil
	case descriptor.KindF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(at(i)))
		}
		return out, nil
	case descriptor.KindF64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(at(i)))
		}
		return out, nil
	case descriptor.KindPointer:
		out := make([]ffiruntime.Pointer, n)
		for i := range out {
			if abi.PtrSize == 4 {
				out[i] = ffiruntime.Pointer(le.Uint32(at(i)))
			} else {
				out[i] = ffiruntime.Pointer(le.Uint64(at(i)))
			}
		}
		return out, nil
	}
	return nil, errors.Unsupported(errors.PhaseDecode, "array element "+kind.String())
}

func (d *Decoder) readStructArray(a *descriptor.StructArray, addr uintptr, path []string) (any, error) {
	if !a.HasLength() {
		return nil, errors.LengthRequired(path, a.String())
	}
	info, err := d.layout.Block(a)
	if err != nil {
		return nil, err
	}
	out := make([]*orderedmap.OrderedMap[string, any], a.Len)
	for i := range out {
		v, err := d.readField(a.Item, addr+uintptr(i)*info.Stride, appendPath(path, "["+strconv.Itoa(i)+"]"))
		if err != nil {
			return nil, err
		}
		if m, ok := v.(*orderedmap.OrderedMap[string, any]); ok {
			out[i] = m
		}
	}
	return out, nil
}
