package layout

import (
	"sync"
	"unsafe"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/transcoder/internal/abi"
)

// Info is the native footprint of a descriptor. Offsets holds one entry per
// struct field in declaration order; Stride is the element pitch of arrays.
type Info struct {
	Offsets []uintptr
	Size    uintptr
	Align   uintptr
	Stride  uintptr
}

var (
	pointerInfo = Info{Size: abi.PtrSize, Align: unsafe.Alignof(uintptr(0))}

	primitiveInfo = map[descriptor.Kind]Info{
		descriptor.KindBool:        {Size: unsafe.Sizeof(bool(false)), Align: unsafe.Alignof(bool(false))},
		descriptor.KindU8:          {Size: unsafe.Sizeof(uint8(0)), Align: unsafe.Alignof(uint8(0))},
		descriptor.KindI16:         {Size: unsafe.Sizeof(int16(0)), Align: unsafe.Alignof(int16(0))},
		descriptor.KindI32:         {Size: unsafe.Sizeof(int32(0)), Align: unsafe.Alignof(int32(0))},
		descriptor.KindU32:         {Size: unsafe.Sizeof(uint32(0)), Align: unsafe.Alignof(uint32(0))},
		descriptor.KindF32:         {Size: unsafe.Sizeof(float32(0)), Align: unsafe.Alignof(float32(0))},
		descriptor.KindI64:         {Size: unsafe.Sizeof(int64(0)), Align: unsafe.Alignof(int64(0))},
		descriptor.KindU64:         {Size: unsafe.Sizeof(uint64(0)), Align: unsafe.Alignof(uint64(0))},
		descriptor.KindF64:         {Size: unsafe.Sizeof(float64(0)), Align: unsafe.Alignof(float64(0))},
		descriptor.KindPointer:     pointerInfo,
		descriptor.KindCString:     pointerInfo,
		descriptor.KindWideCString: pointerInfo,
		descriptor.KindCallback:    pointerInfo,
		descriptor.KindVoid:        {Size: 0, Align: 1},
	}
)

// Calculator memoizes layouts per descriptor. It is safe for concurrent use.
type Calculator struct {
	cache map[descriptor.Type]Info
	mu    sync.RWMutex
}

func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[descriptor.Type]Info),
	}
}

// Calculate returns the in-memory layout of t, the footprint it has when
// embedded in a parent: indirect composites report one pointer.
func (c *Calculator) Calculate(t descriptor.Type) (Info, error) {
	if t == nil {
		return Info{}, errors.New(errors.PhaseLayout, errors.KindInvalidInput).Detail("nil descriptor").Build()
	}
	switch typ := t.(type) {
	case descriptor.Primitive:
		return primitiveInfo[typ.Kind()], nil
	case *descriptor.Callback:
		return pointerInfo, nil
	case *descriptor.Array:
		if typ.Storage == descriptor.Indirect {
			return pointerInfo, nil
		}
	case *descriptor.StructArray:
		if typ.Storage == descriptor.Indirect {
			return pointerInfo, nil
		}
	case *descriptor.Struct:
		if typ.Storage == descriptor.Indirect {
			return pointerInfo, nil
		}
	}
	return c.Block(t)
}

// Block returns the layout of the memory block a composite occupies,
// ignoring its own storage. For primitives it equals Calculate.
func (c *Calculator) Block(t descriptor.Type) (Info, error) {
	if p, ok := t.(descriptor.Primitive); ok {
		return primitiveInfo[p.Kind()], nil
	}
	if _, ok := t.(*descriptor.Callback); ok {
		return pointerInfo, nil
	}

	c.mu.RLock()
	cached, ok := c.cache[t]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var (
		info Info
		err  error
	)
	switch typ := t.(type) {
	case *descriptor.Struct:
		info, err = c.calculateStruct(typ)
	case *descriptor.Array:
		info, err = c.calculateArray(typ.String(), primitiveInfo[typ.Elem.Kind()], typ.Len)
	case *descriptor.StructArray:
		var elem Info
		elem, err = c.Calculate(typ.Item)
		if err == nil {
			info, err = c.calculateArray(typ.String(), elem, typ.Len)
		}
	default:
		err = errors.Unsupported(errors.PhaseLayout, typeName(t))
	}
	if err != nil {
		return Info{}, err
	}

	c.mu.Lock()
	c.cache[t] = info
	c.mu.Unlock()
	return info, nil
}

func (c *Calculator) calculateStruct(s *descriptor.Struct) (Info, error) {
	if len(s.Fields) == 0 {
		return Info{Size: 0, Align: 1}, nil
	}

	offsets := make([]uintptr, len(s.Fields))
	maxAlign := uintptr(1)
	offset := uintptr(0)

	for i, field := range s.Fields {
		fieldLayout, err := c.Calculate(field.Type)
		if err != nil {
			return Info{}, err
		}

		offset = abi.AlignTo(offset, fieldLayout.Align)
		offsets[i] = offset

		if fieldLayout.Align > maxAlign {
			maxAlign = fieldLayout.Align
		}

		next, ok := abi.SafeAdd(offset, fieldLayout.Size)
		if !ok {
			return Info{}, overflow(s.String())
		}
		offset = next
	}

	totalSize := abi.AlignTo(offset, maxAlign)
	if totalSize < offset {
		return Info{}, overflow(s.String())
	}

	return Info{
		Size:    totalSize,
		Align:   maxAlign,
		Offsets: offsets,
	}, nil
}

// calculateArray lays out n elements back to back. A dynamic array has no
// static block size; Stride still describes its elements.
func (c *Calculator) calculateArray(name string, elem Info, n int) (Info, error) {
	stride := abi.AlignTo(elem.Size, elem.Align)
	info := Info{Align: max(elem.Align, 1), Stride: stride}
	if n < 0 {
		return info, nil
	}
	size, ok := abi.SafeMul(stride, uintptr(n))
	if !ok {
		return Info{}, overflow(name)
	}
	info.Size = size
	return info, nil
}

// Sized returns the block layout of an array with an explicit element count.
func (c *Calculator) Sized(t descriptor.Type, n int) (Info, error) {
	info, err := c.Block(t)
	if err != nil {
		return Info{}, err
	}
	if n < 0 {
		return Info{}, errors.LengthRequired(nil, t.String())
	}
	size, ok := abi.SafeMul(info.Stride, uintptr(n))
	if !ok {
		return Info{}, overflow(t.String())
	}
	info.Size = size
	return info, nil
}

// ArgInfo is the layout of an argument slot: inline structs travel by
// value, every other composite as a single pointer.
func (c *Calculator) ArgInfo(t descriptor.Type) (Info, error) {
	if s, ok := t.(*descriptor.Struct); ok && s.Storage == descriptor.Inline {
		return c.Block(s)
	}
	if t != nil && t.Kind().IsComposite() {
		return pointerInfo, nil
	}
	return c.Calculate(t)
}

func overflow(name string) error {
	return errors.New(errors.PhaseLayout, errors.KindOverflow).
		NativeType(name).
		Detail("layout size overflows the address space").
		Build()
}

func typeName(t descriptor.Type) string {
	if t == nil {
		return "nil"
	}
	return t.String()
}
