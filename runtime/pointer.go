package runtime

import (
	"strconv"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/resource"
	"github.com/wippyai/ffi-runtime/transcoder"
)

// PointerMode says who allocated the memory behind a pointer.
type PointerMode uint8

const (
	// PointerOwned memory came from CreatePointer or WrapPointer.
	PointerOwned PointerMode = iota
	// PointerForeign memory came from native code and its C allocator.
	PointerForeign
)

func (m PointerMode) String() string {
	if m == PointerForeign {
		return "foreign"
	}
	return "owned"
}

// ownedPointer is the resource table record of a runtime-created pointer.
// Dropping it frees every block written for the value.
type ownedPointer struct {
	allocs *transcoder.AllocationList
	alloc  transcoder.Allocator
}

func (p *ownedPointer) Drop() {
	p.allocs.FreeAll(p.alloc)
	p.allocs.Release()
}

// CreatePointer writes each value into runtime memory laid out as an
// argument slot and returns the slot addresses. A pointer to an i32 holds
// the integer; a pointer to a string holds the char pointer. Free them
// with FreePointer and PointerOwned.
func (r *Runtime) CreatePointer(types []descriptor.Type, values []any) ([]ffiruntime.Pointer, error) {
	if err := pairCheck(len(types), len(values)); err != nil {
		return nil, err
	}
	if err := r.checkOpen(errors.PhaseRuntime); err != nil {
		return nil, err
	}
	out := make([]ffiruntime.Pointer, 0, len(types))
	fail := func(err error) ([]ffiruntime.Pointer, error) {
		_ = r.FreePointer(types[:len(out)], out, PointerOwned)
		return nil, err
	}
	for i, t := range types {
		if _, ok := t.(*descriptor.Callback); ok {
			return fail(errors.New(errors.PhaseEncode, errors.KindUnsupported).
				Path("[" + strconv.Itoa(i) + "]").
				Detail("bind callbacks through a Scope").
				Build())
		}
		enc := transcoder.NewEncoder(r.mem, r.alloc, transcoder.WithLayout(r.layout))
		allocs := enc.Allocations()
		slot, err := enc.EncodeArg(t, values[i])
		if err != nil {
			allocs.FreeAndRelease(r.alloc)
			return fail(argError(i, err))
		}
		rec := &ownedPointer{allocs: allocs, alloc: r.alloc}
		if _, err := r.table.InsertErr(resource.KindExternal, slot.Addr, rec); err != nil {
			rec.Drop()
			return fail(err)
		}
		out = append(out, slot.Pointer())
	}
	return out, nil
}

// RestorePointer decodes the value each pointer refers to, reading it as
// CreatePointer lays it out.
func (r *Runtime) RestorePointer(types []descriptor.Type, ptrs []ffiruntime.Pointer) ([]any, error) {
	if err := pairCheck(len(types), len(ptrs)); err != nil {
		return nil, err
	}
	out := make([]any, len(types))
	for i, t := range types {
		info, err := r.layout.ArgInfo(t)
		if err != nil {
			return nil, argError(i, err)
		}
		if ptrs[i] == 0 {
			return nil, errors.NilPointer(errors.PhaseDecode, []string{"[" + strconv.Itoa(i) + "]"}, t.String())
		}
		v, err := r.decoder.DecodeArg(t, transcoder.Borrow(uintptr(ptrs[i]), info.Size))
		if err != nil {
			return nil, argError(i, err)
		}
		out[i] = v
	}
	return out, nil
}

// FreePointer frees pointers and what they reference. Owned pointers must
// come from CreatePointer or WrapPointer. Foreign pointers are walked with
// the descriptor and freed with the C allocator.
func (r *Runtime) FreePointer(types []descriptor.Type, ptrs []ffiruntime.Pointer, mode PointerMode) error {
	if err := pairCheck(len(types), len(ptrs)); err != nil {
		return err
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i, t := range types {
		p := uintptr(ptrs[i])
		if p == 0 {
			continue
		}
		switch mode {
		case PointerOwned:
			h, ok := r.table.Lookup(p)
			if !ok {
				keep(errors.NotFound(errors.PhaseRuntime, "pointer", ptrs[i].String()))
				continue
			}
			if _, ok := r.table.GetKind(h, resource.KindExternal); !ok {
				keep(errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
					Value(ptrs[i]).
					Detail("%s is not a runtime-created pointer", ptrs[i]).
					Build())
				continue
			}
			r.table.Remove(h)
		case PointerForeign:
			if r.libc == nil {
				return errors.Unsupported(errors.PhaseRuntime, "freeing foreign pointers without libc")
			}
			keep(argError(i, r.reclaimSlot(t, p, r.libc)))
		default:
			return errors.InvalidInput(errors.PhaseRuntime, "unknown pointer mode "+strconv.Itoa(int(mode)))
		}
	}
	return firstErr
}

// reclaimSlot frees a slot shaped value and the slot itself.
func (r *Runtime) reclaimSlot(t descriptor.Type, slot uintptr, alloc transcoder.Allocator) error {
	if s, ok := t.(*descriptor.Struct); ok && s.Storage == descriptor.Inline {
		return r.decoder.Reclaim(t, transcoder.Region{Addr: slot, Ownership: transcoder.Owned}, alloc)
	}
	word, err := r.mem.ReadU64(slot)
	if err != nil {
		return err
	}
	if err := r.decoder.Reclaim(t, transcoder.Slot(uintptr(word)), alloc); err != nil {
		return err
	}
	alloc.Free(slot)
	return nil
}

// WrapPointer stores each pointer in a fresh runtime-owned word and
// returns the word addresses: one more level of indirection.
func (r *Runtime) WrapPointer(ptrs []ffiruntime.Pointer) ([]ffiruntime.Pointer, error) {
	types := make([]descriptor.Type, len(ptrs))
	values := make([]any, len(ptrs))
	for i, p := range ptrs {
		types[i] = descriptor.Pointer
		values[i] = p
	}
	return r.CreatePointer(types, values)
}

// UnwrapPointer reads the pointer each address holds: one less level of
// indirection.
func (r *Runtime) UnwrapPointer(ptrs []ffiruntime.Pointer) ([]ffiruntime.Pointer, error) {
	out := make([]ffiruntime.Pointer, len(ptrs))
	for i, p := range ptrs {
		if p == 0 {
			return nil, errors.NilPointer(errors.PhaseDecode, []string{"[" + strconv.Itoa(i) + "]"}, "pointer")
		}
		w, err := r.mem.ReadU64(uintptr(p))
		if err != nil {
			return nil, err
		}
		out[i] = ffiruntime.Pointer(uintptr(w))
	}
	return out, nil
}

// IsNullPointer reports whether p is null.
func IsNullPointer(p ffiruntime.Pointer) bool {
	return p.IsNull()
}

func pairCheck(types, values int) error {
	if types != values {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("%d types for %d values", types, values).
			Build()
	}
	return nil
}
