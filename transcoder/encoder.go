package transcoder

import (
	"encoding/binary"
	"math"
	"reflect"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/transcoder/internal/abi"
)

// Safety limits to prevent memory exhaustion.
const (
	MaxStringSize  = abi.MaxStringSize
	MaxArrayLength = abi.MaxArrayLength
	MaxAlloc       = abi.MaxAlloc
)

var (
	typeName        = abi.TypeName
	coerceToBool    = abi.CoerceToBool
	coerceToUint8   = abi.CoerceToUint8
	coerceToInt16   = abi.CoerceToInt16
	coerceToInt32   = abi.CoerceToInt32
	coerceToUint32  = abi.CoerceToUint32
	coerceToInt64   = abi.CoerceToInt64
	coerceToUint64  = abi.CoerceToUint64
	coerceToFloat32 = abi.CoerceToFloat32
	coerceToFloat64 = abi.CoerceToFloat64
	coerceToPointer = abi.CoerceToPointer
)

// Bytes is implemented by host buffers that can stand in for a byte array.
type Bytes interface {
	Bytes() []byte
}

// Encoder writes host values into native memory following a descriptor.
// An Encoder records its allocations in one AllocationList and is meant
// for a single call; construct a new one per call.
type Encoder struct {
	mem    Memory
	alloc  Allocator
	layout *LayoutCalculator
	allocs *AllocationList
}

type EncoderOption func(*Encoder)

// WithLayout shares a layout cache between encoders.
func WithLayout(lc *LayoutCalculator) EncoderOption {
	return func(e *Encoder) { e.layout = lc }
}

// WithAllocations records allocations into list instead of a fresh one.
func WithAllocations(list *AllocationList) EncoderOption {
	return func(e *Encoder) { e.allocs = list }
}

func NewEncoder(mem Memory, alloc Allocator, opts ...EncoderOption) *Encoder {
	e := &Encoder{mem: mem, alloc: alloc}
	for _, opt := range opts {
		opt(e)
	}
	if e.layout == nil {
		e.layout = NewLayoutCalculator()
	}
	if e.allocs == nil {
		e.allocs = NewAllocationList()
	}
	return e
}

// Allocations returns the list of blocks this encoder allocated.
func (e *Encoder) Allocations() *AllocationList {
	return e.allocs
}

// Encode writes value as the block of t. With a nil target the block is
// allocated and returned Owned; otherwise it is written into target, which
// must be large enough, and the result is Borrowed.
// For strings, pointers and callbacks the block is the pointer word itself.
func (e *Encoder) Encode(t descriptor.Type, value any, target *Region) (Region, error) {
	if t == nil {
		return Region{}, errors.InvalidInput(errors.PhaseEncode, "nil descriptor")
	}
	if t.Kind() == descriptor.KindVoid {
		return Region{}, errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "void")
	}

	info, err := e.blockLayout(t, value, nil)
	if err != nil {
		return Region{}, err
	}

	var region Region
	if target == nil {
		region, err = e.allocate(info.Size, info.Align, false)
		if err != nil {
			return Region{}, err
		}
	} else {
		if target.Addr == 0 {
			return Region{}, errors.NilPointer(errors.PhaseEncode, nil, t.String())
		}
		if target.Size < info.Size {
			return Region{}, errors.New(errors.PhaseEncode, errors.KindOutOfBounds).
				NativeType(t.String()).
				Detail("target region of %d bytes cannot hold %d", target.Size, info.Size).
				Build()
		}
		region = *target
		region.Ownership = Borrowed
	}

	if err := e.writeBlock(t, value, region.Addr, nil); err != nil {
		return Region{}, err
	}
	return region, nil
}

// EncodeArg produces an argument slot for the invoker. Inline structs are
// copied into the slot by value; any other composite is placed in its own
// block and the slot carries the pointer.
func (e *Encoder) EncodeArg(t descriptor.Type, value any) (Region, error) {
	if t == nil {
		return Region{}, errors.InvalidInput(errors.PhaseEncode, "nil descriptor")
	}
	if t.Kind() == descriptor.KindVoid {
		return Region{}, errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "void")
	}
	info, err := e.layout.ArgInfo(t)
	if err != nil {
		return Region{}, err
	}
	slot, err := e.allocate(max(info.Size, abi.PtrSize), max(info.Align, abi.PtrSize), false)
	if err != nil {
		return Region{}, err
	}

	switch typ := t.(type) {
	case *descriptor.Struct:
		if typ.Storage == descriptor.Inline {
			if value == nil {
				return Region{}, errors.NilPointer(errors.PhaseEncode, nil, t.String())
			}
			err = e.writeBlock(typ, value, slot.Addr, nil)
		} else {
			err = e.writeField(typ, value, slot.Addr, nil)
		}
	case *descriptor.Array, *descriptor.StructArray:
		err = e.writeIndirect(t, value, slot.Addr, nil)
	default:
		err = e.writeField(t, value, slot.Addr, nil)
	}
	if err != nil {
		return Region{}, err
	}
	return slot, nil
}

// EncodeReturn writes a callback result into the libffi return buffer.
// Integral results narrower than a word are widened to a full word, as
// libffi expects of closures.
func (e *Encoder) EncodeReturn(t descriptor.Type, value any, ret Region) error {
	if t == nil || t.Kind() == descriptor.KindVoid || ret.Addr == 0 {
		return nil
	}
	if ret.Size != 0 && ret.Size < abi.PtrSize {
		return errors.New(errors.PhaseEncode, errors.KindOutOfBounds).
			Detail("return buffer of %d bytes is smaller than a word", ret.Size).
			Build()
	}

	kind := t.Kind()
	if value == nil {
		return e.mem.WriteU64(ret.Addr, 0)
	}

	switch kind {
	case descriptor.KindF32:
		v, ok := coerceToFloat32(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "f32")
		}
		return e.mem.WriteU32(ret.Addr, math.Float32bits(v))
	case descriptor.KindF64:
		v, ok := coerceToFloat64(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "f64")
		}
		return e.mem.WriteU64(ret.Addr, math.Float64bits(v))
	case descriptor.KindBool:
		v, ok := coerceToBool(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "bool")
		}
		var w uint64
		if v {
			w = 1
		}
		return e.mem.WriteU64(ret.Addr, w)
	case descriptor.KindU8:
		v, ok := coerceToUint8(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "u8")
		}
		return e.mem.WriteU64(ret.Addr, uint64(v))
	case descriptor.KindI16:
		v, ok := coerceToInt16(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "i16")
		}
		return e.mem.WriteU64(ret.Addr, uint64(int64(v)))
	case descriptor.KindI32:
		v, ok := coerceToInt32(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "i32")
		}
		return e.mem.WriteU64(ret.Addr, uint64(int64(v)))
	case descriptor.KindU32:
		v, ok := coerceToUint32(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, nil, typeName(value), "u32")
		}
		return e.mem.WriteU64(ret.Addr, uint64(v))
	}
	return e.writeField(t, value, ret.Addr, nil)
}

func (e *Encoder) allocate(size, align uintptr, transferred bool) (Region, error) {
	if e.alloc == nil {
		return Region{}, errors.New(errors.PhaseEncode, errors.KindAllocation).
			Detail("no allocator configured").
			Build()
	}
	size, align = abi.AllocShape(size, align)
	if size > MaxAlloc {
		return Region{}, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("allocation of %d bytes exceeds maximum %d", size, MaxAlloc).
			Build()
	}
	addr, err := e.alloc.Alloc(size, align)
	if err != nil {
		return Region{}, errors.New(errors.PhaseEncode, errors.KindAllocation).
			Cause(err).
			Detail("allocate %d bytes (align %d)", size, align).
			Build()
	}
	if addr == 0 {
		return Region{}, errors.AllocationFailed(errors.PhaseEncode, size, align)
	}
	own := Owned
	if transferred {
		e.allocs.Transfer(addr, size, align)
		own = Transferred
	} else {
		e.allocs.Add(addr, size, align)
	}
	return Region{Addr: addr, Size: size, Align: align, Ownership: own}, nil
}

// blockLayout resolves the block layout of t, taking the element count of
// dynamic arrays from value.
func (e *Encoder) blockLayout(t descriptor.Type, value any, path []string) (LayoutInfo, error) {
	switch typ := t.(type) {
	case *descriptor.Array:
		if !typ.HasLength() {
			n, err := valueLen(value, path, t)
			if err != nil {
				return LayoutInfo{}, err
			}
			return e.layout.Sized(t, n)
		}
	case *descriptor.StructArray:
		if !typ.HasLength() {
			n, err := valueLen(value, path, t)
			if err != nil {
				return LayoutInfo{}, err
			}
			return e.layout.Sized(t, n)
		}
	}
	return e.layout.Block(t)
}

// writeBlock writes the contents of t at addr regardless of t's storage.
func (e *Encoder) writeBlock(t descriptor.Type, value any, addr uintptr, path []string) error {
	switch typ := t.(type) {
	case *descriptor.Struct:
		return e.writeStruct(typ, value, addr, path)
	case *descriptor.Array:
		return e.writeArray(typ, value, addr, path)
	case *descriptor.StructArray:
		return e.writeStructArray(typ, value, addr, path)
	default:
		return e.writeField(t, value, addr, path)
	}
}

// writeField writes value as it sits inside a parent block: scalars in
// place, inline composites expanded, everything else as a pointer.
func (e *Encoder) writeField(t descriptor.Type, value any, addr uintptr, path []string) error {
	switch typ := t.(type) {
	case descriptor.Primitive:
		return e.writePrimitive(typ.Kind(), value, addr, path)
	case *descriptor.Callback:
		return e.writeCallback(typ, value, addr, path)
	}

	if storage, _ := storageOf(t); storage == descriptor.Inline {
		if value == nil {
			return errors.NilPointer(errors.PhaseEncode, path, t.String())
		}
		return e.writeBlock(t, value, addr, path)
	}
	return e.writeIndirect(t, value, addr, path)
}

// writeIndirect places the block of t in a fresh transferred allocation
// and stores its address at addr. A nil value, typed or not, stores the
// null pointer.
func (e *Encoder) writeIndirect(t descriptor.Type, value any, addr uintptr, path []string) error {
	if isNil(value) {
		return e.writePointer(addr, 0)
	}
	if p, ok := value.(ffiruntime.Pointer); ok {
		return e.writePointer(addr, uintptr(p))
	}
	info, err := e.blockLayout(t, value, path)
	if err != nil {
		return err
	}
	block, err := e.allocate(info.Size, info.Align, true)
	if err != nil {
		return err
	}
	if err := e.writeBlock(t, value, block.Addr, path); err != nil {
		return err
	}
	return e.writePointer(addr, block.Addr)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (e *Encoder) writePointer(addr, p uintptr) error {
	if abi.PtrSize == 4 {
		return e.mem.WriteU32(addr, uint32(p))
	}
	return e.mem.WriteU64(addr, uint64(p))
}

func (e *Encoder) writePrimitive(kind descriptor.Kind, value any, addr uintptr, path []string) error {
	switch kind {
	case descriptor.KindBool:
		v, ok := coerceToBool(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "bool")
		}
		var b uint8
		if v {
			b = 1
		}
		return e.mem.WriteU8(addr, b)

	case descriptor.KindU8:
		v, ok := coerceToUint8(value)
		if !ok {
			return mismatchOrOverflow(value, path, "u8")
		}
		return e.mem.WriteU8(addr, v)

	case descriptor.KindI16:
		v, ok := coerceToInt16(value)
		if !ok {
			return mismatchOrOverflow(value, path, "i16")
		}
		return e.mem.WriteU16(addr, uint16(v))

	case descriptor.KindI32:
		v, ok := coerceToInt32(value)
		if !ok {
			return mismatchOrOverflow(value, path, "i32")
		}
		return e.mem.WriteU32(addr, uint32(v))

	case descriptor.KindU32:
		v, ok := coerceToUint32(value)
		if !ok {
			return mismatchOrOverflow(value, path, "u32")
		}
		return e.mem.WriteU32(addr, v)

	case descriptor.KindI64:
		v, ok := coerceToInt64(value)
		if !ok {
			return mismatchOrOverflow(value, path, "i64")
		}
		return e.mem.WriteU64(addr, uint64(v))

	case descriptor.KindU64:
		v, ok := coerceToUint64(value)
		if !ok {
			return mismatchOrOverflow(value, path, "u64")
		}
		return e.mem.WriteU64(addr, v)

	case descriptor.KindF32:
		v, ok := coerceToFloat32(value)
		if !ok {
			return mismatchOrOverflow(value, path, "f32")
		}
		return e.mem.WriteU32(addr, math.Float32bits(v))

	case descriptor.KindF64:
		v, ok := coerceToFloat64(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "f64")
		}
		return e.mem.WriteU64(addr, math.Float64bits(v))

	case descriptor.KindPointer:
		v, ok := coerceToPointer(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "pointer")
		}
		return e.writePointer(addr, uintptr(v))

	case descriptor.KindCString, descriptor.KindWideCString:
		p, err := e.encodeString(kind, value, path)
		if err != nil {
			return err
		}
		return e.writePointer(addr, p)

	case descriptor.KindVoid:
		return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "void")
	}
	return errors.Unsupported(errors.PhaseEncode, "kind "+kind.String())
}

// mismatchOrOverflow separates numbers that do not fit from values of the
// wrong type altogether.
func mismatchOrOverflow(value any, path []string, target string) error {
	if _, ok := coerceToFloat64(value); ok {
		return errors.Overflow(errors.PhaseEncode, path, value, target)
	}
	return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), target)
}

// encodeString copies a string into a NUL-terminated transferred buffer
// and returns its address. nil encodes as the null pointer and an existing
// Pointer passes through.
func (e *Encoder) encodeString(kind descriptor.Kind, value any, path []string) (uintptr, error) {
	var s string
	switch v := value.(type) {
	case nil:
		return 0, nil
	case ffiruntime.Pointer:
		return uintptr(v), nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return 0, errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), kind.String())
	}

	var data []byte
	if kind == descriptor.KindWideCString {
		wide, err := abi.EncodeWide(s)
		if err != nil {
			return 0, errors.New(errors.PhaseEncode, errors.KindInvalidData).
				Path(path...).
				Cause(err).
				Detail("cannot encode string as wchar_t").
				Build()
		}
		data = wide
	} else {
		data = make([]byte, len(s)+1)
		copy(data, s)
	}
	if uintptr(len(data)) > MaxStringSize {
		return 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Path(path...).
			Detail("string size %d exceeds maximum %d", len(data), MaxStringSize).
			Build()
	}

	align := uintptr(1)
	if kind == descriptor.KindWideCString {
		align = abi.WcharSize
	}
	block, err := e.allocate(uintptr(len(data)), align, true)
	if err != nil {
		return 0, err
	}
	if err := e.mem.Write(block.Addr, data); err != nil {
		return 0, err
	}
	return block.Addr, nil
}

func (e *Encoder) writeCallback(t *descriptor.Callback, value any, addr uintptr, path []string) error {
	switch v := value.(type) {
	case nil:
		return e.writePointer(addr, 0)
	case ffiruntime.Pointer:
		return e.writePointer(addr, uintptr(v))
	case uintptr:
		return e.writePointer(addr, v)
	}
	if reflect.ValueOf(value).Kind() == reflect.Func {
		return errors.New(errors.PhaseEncode, errors.KindUnsupported).
			Path(path...).
			GoType(typeName(value)).
			NativeType(t.String()).
			Detail("host functions must be bound with callback.Factory before encoding").
			Build()
	}
	return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), t.String())
}

func (e *Encoder) writeStruct(s *descriptor.Struct, value any, addr uintptr, path []string) error {
	get, err := structGetter(value, path, s)
	if err != nil {
		return err
	}
	info, err := e.layout.Block(s)
	if err != nil {
		return err
	}
	for i, field := range s.Fields {
		fieldPath := appendPath(path, field.Name)
		v, ok := get(field.Name)
		if !ok {
			return errors.FieldMissing(errors.PhaseEncode, path, field.Name)
		}
		if err := e.writeField(field.Type, v, addr+info.Offsets[i], fieldPath); err != nil {
			return err
		}
	}
	return nil
}

func structGetter(value any, path []string, s *descriptor.Struct) (func(string) (any, bool), error) {
	switch v := value.(type) {
	case *orderedmap.OrderedMap[string, any]:
		if v == nil {
			return nil, errors.NilPointer(errors.PhaseEncode, path, s.String())
		}
		return v.Get, nil
	case map[string]any:
		return func(k string) (any, bool) {
			x, ok := v[k]
			return x, ok
		}, nil
	case nil:
		return nil, errors.NilPointer(errors.PhaseEncode, path, s.String())
	}
	return nil, errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), s.String())
}

func (e *Encoder) writeArray(a *descriptor.Array, value any, addr uintptr, path []string) error {
	n, err := valueLen(value, path, a)
	if err != nil {
		return err
	}
	if a.HasLength() && n > a.Len {
		return errors.New(errors.PhaseEncode, errors.KindOutOfBounds).
			Path(path...).
			NativeType(a.String()).
			Detail("%d elements do not fit in an array of %d", n, a.Len).
			Build()
	}
	count := n
	if a.HasLength() {
		count = a.Len
	}
	info, err := e.layout.Sized(a, count)
	if err != nil {
		return err
	}
	if info.Size == 0 {
		return nil
	}

	// Strings need one allocation each; write them through writeField.
	kind := a.Elem.Kind()
	if kind.IsString() {
		for i := 0; i < n; i++ {
			v, _ := indexValue(value, i)
			if err := e.writeField(a.Elem, v, addr+uintptr(i)*info.Stride, appendPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
		for i := n; i < count; i++ {
			if err := e.writePointer(addr+uintptr(i)*info.Stride, 0); err != nil {
				return err
			}
		}
		return nil
	}

	if kind == descriptor.KindU8 {
		if b, ok := byteSource(value); ok {
			buf := getBuf(int(info.Size))
			defer putBuf(buf)
			copy(*buf, b)
			return e.mem.Write(addr, *buf)
		}
	}

	buf := getBuf(int(info.Size))
	defer putBuf(buf)
	for i := 0; i < n; i++ {
		v, _ := indexValue(value, i)
		off := uintptr(i) * info.Stride
		if err := putScalar((*buf)[off:off+info.Stride], kind, v, appendPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
			return err
		}
	}
	return e.mem.Write(addr, *buf)
}

// putScalar encodes one numeric element into dst.
func putScalar(dst []byte, kind descriptor.Kind, value any, path []string) error {
	le := binary.LittleEndian
	switch kind {
	case descriptor.KindBool:
		v, ok := coerceToBool(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "bool")
		}
		if v {
			dst[0] = 1
		}
	case descriptor.KindU8:
		v, ok := coerceToUint8(value)
		if !ok {
			return mismatchOrOverflow(value, path, "u8")
		}
		dst[0] = v
	case descriptor.KindI16:
		v, ok := coerceToInt16(value)
		if !ok {
			return mismatchOrOverflow(value, path, "i16")
		}
		le.PutUint16(dst, uint16(v))
	case descriptor.KindI32:
		v, ok := coerceToInt32(value)
		if !ok {
			return mismatchOrOverflow(value, path, "i32")
		}
		le.PutUint32(dst, uint32(v))
	case descriptor.KindU32:
		v, ok := coerceToUint32(value)
		if !ok {
			return mismatchOrOverflow(value, path, "u32")
		}
		le.PutUint32(dst, v)
	case descriptor.KindI64:
		v, ok := coerceToInt64(value)
		if !ok {
			return mismatchOrOverflow(value, path, "i64")
		}
		le.PutUint64(dst, uint64(v))
	case descriptor.KindU64:
		v, ok := coerceToUint64(value)
		if !ok {
			return mismatchOrOverflow(value, path, "u64")
		}
		le.PutUint64(dst, v)
	case descriptor.KindF32:
		v, ok := coerceToFloat32(value)
		if !ok {
			return mismatchOrOverflow(value, path, "f32")
		}
		le.PutUint32(dst, math.Float32bits(v))
	case descriptor.KindF64:
		v, ok := coerceToFloat64(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "f64")
		}
		le.PutUint64(dst, math.Float64bits(v))
	case descriptor.KindPointer:
		v, ok := coerceToPointer(value)
		if !ok {
			return errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), "pointer")
		}
		if abi.PtrSize == 4 {
			le.PutUint32(dst, uint32(v))
		} else {
			le.PutUint64(dst, uint64(v))
		}
	default:
		return errors.Unsupported(errors.PhaseEncode, "array element "+kind.String())
	}
	return nil
}

func (e *Encoder) writeStructArray(a *descriptor.StructArray, value any, addr uintptr, path []string) error {
	n, err := valueLen(value, path, a)
	if err != nil {
		return err
	}
	if a.HasLength() && n > a.Len {
		return errors.New(errors.PhaseEncode, errors.KindOutOfBounds).
			Path(path...).
			NativeType(a.String()).
			Detail("%d items do not fit in an array of %d", n, a.Len).
			Build()
	}
	info, err := e.layout.Block(a)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		v, _ := indexValue(value, i)
		if err := e.writeField(a.Item, v, addr+uintptr(i)*info.Stride, appendPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
			return err
		}
	}
	return nil
}

func byteSource(value any) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case Bytes:
		return v.Bytes(), true
	case string:
		return []byte(v), true
	}
	return nil, false
}

// valueLen returns the element count of a host array value.
func valueLen(value any, path []string, t descriptor.Type) (int, error) {
	var n int
	switch v := value.(type) {
	case nil:
		return 0, nil
	case []any:
		n = len(v)
	case []byte:
		n = len(v)
	case Bytes:
		n = len(v.Bytes())
	case string:
		// A string stands in for a byte array only.
		if a, ok := t.(*descriptor.Array); !ok || a.Elem.Kind() != descriptor.KindU8 {
			return 0, errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), t.String())
		}
		n = len(v)
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return 0, errors.TypeMismatch(errors.PhaseEncode, path, typeName(value), t.String())
		}
		n = rv.Len()
	}
	if n > MaxArrayLength {
		return 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Path(path...).
			Detail("array length %d exceeds maximum %d", n, MaxArrayLength).
			Build()
	}
	return n, nil
}

func indexValue(value any, i int) (any, bool) {
	switch v := value.(type) {
	case []any:
		return v[i], true
	case []byte:
		return v[i], true
	case []int32:
		return v[i], true
	case []float64:
		return v[i], true
	case []string:
		return v[i], true
	case []*orderedmap.OrderedMap[string, any]:
		return v[i], true
	case []map[string]any:
		return v[i], true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	return rv.Index(i).Interface(), true
}

func storageOf(t descriptor.Type) (descriptor.Storage, bool) {
	if a, ok := t.(*descriptor.Array); ok {
		return a.Storage, true
	}
	return descriptor.StructStorage(t)
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}
