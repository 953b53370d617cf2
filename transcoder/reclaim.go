package transcoder

import (
	"strconv"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
)

// Reclaim frees the block of t held by region together with every string
// and indirect block reachable from it. Dynamic arrays whose elements carry
// pointers need a length to be walked; elements of plain numeric arrays
// are not visited.
func Reclaim(mem Memory, alloc Allocator, t descriptor.Type, region Region) error {
	return NewDecoder(mem).Reclaim(t, region, alloc)
}

// Reclaim is the package-level Reclaim using d's memory and layout cache.
func (d *Decoder) Reclaim(t descriptor.Type, region Region, alloc Allocator) error {
	if alloc == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "nil allocator")
	}
	if t == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "nil descriptor")
	}
	if region.Addr == 0 {
		return nil
	}
	if region.Ownership == Word {
		// The word is the pointer to the block.
		switch typ := t.(type) {
		case descriptor.Primitive:
			if typ.Kind().IsString() {
				alloc.Free(region.Addr)
			}
			return nil
		case *descriptor.Callback:
			return nil
		}
		if err := d.reclaimBlock(t, region.Addr, alloc, nil); err != nil {
			return err
		}
		alloc.Free(region.Addr)
		return nil
	}
	if err := d.reclaimBlock(t, region.Addr, alloc, nil); err != nil {
		return err
	}
	if region.Ownership != Borrowed {
		alloc.Free(region.Addr)
	}
	return nil
}

func (d *Decoder) reclaimBlock(t descriptor.Type, addr uintptr, alloc Allocator, path []string) error {
	switch typ := t.(type) {
	case *descriptor.Struct:
		info, err := d.layout.Block(typ)
		if err != nil {
			return err
		}
		for i, f := range typ.Fields {
			if err := d.reclaimField(f.Type, addr+info.Offsets[i], alloc, appendPath(path, f.Name)); err != nil {
				return err
			}
		}
		return nil

	case *descriptor.Array:
		if !typ.Elem.Kind().IsString() {
			return nil
		}
		if !typ.HasLength() {
			return errors.New(errors.PhaseRuntime, errors.KindLengthRequired).
				Path(path...).
				NativeType(typ.String()).
				Detail("string array needs a length to be reclaimed").
				Build()
		}
		for i := 0; i < typ.Len; i++ {
			if err := d.reclaimField(typ.Elem, addr+uintptr(i)*PtrSize, alloc, path); err != nil {
				return err
			}
		}
		return nil

	case *descriptor.StructArray:
		if !typ.HasLength() {
			return errors.New(errors.PhaseRuntime, errors.KindLengthRequired).
				Path(path...).
				NativeType(typ.String()).
				Detail("struct array needs a length to be reclaimed").
				Build()
		}
		info, err := d.layout.Block(typ)
		if err != nil {
			return err
		}
		for i := 0; i < typ.Len; i++ {
			itemPath := appendPath(path, "["+strconv.Itoa(i)+"]")
			if err := d.reclaimField(typ.Item, addr+uintptr(i)*info.Stride, alloc, itemPath); err != nil {
				return err
			}
		}
		return nil

	default:
		return d.reclaimField(t, addr, alloc, path)
	}
}

// reclaimField frees what a field points to. Pointer and callback fields
// are foreign and left alone.
func (d *Decoder) reclaimField(t descriptor.Type, addr uintptr, alloc Allocator, path []string) error {
	switch typ := t.(type) {
	case descriptor.Primitive:
		if !typ.Kind().IsString() {
			return nil
		}
		p, err := d.readPointer(addr)
		if err != nil {
			return err
		}
		if p != 0 {
			alloc.Free(p)
		}
		return nil
	case *descriptor.Callback:
		return nil
	}

	if storage, _ := storageOf(t); storage == descriptor.Inline {
		return d.reclaimBlock(t, addr, alloc, path)
	}
	p, err := d.readPointer(addr)
	if err != nil {
		return err
	}
	if p == 0 {
		return nil
	}
	if err := d.reclaimBlock(t, p, alloc, path); err != nil {
		return err
	}
	alloc.Free(p)
	return nil
}
