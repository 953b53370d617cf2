package transcoder

import (
	"sync"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/transcoder/internal/abi"
)

type Memory = ffiruntime.Memory
type Allocator = ffiruntime.Allocator

// Ownership says who frees a region.
type Ownership uint8

const (
	// Owned regions were allocated by the encoder for the caller.
	Owned Ownership = iota
	// Transferred regions were handed to native code (NativeOwned).
	Transferred
	// Borrowed regions belong to someone else and are only read or written.
	Borrowed
	// Word regions are not memory: Addr carries the value of one
	// pointer-sized argument word.
	Word
)

func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Transferred:
		return "transferred"
	case Borrowed:
		return "borrowed"
	case Word:
		return "word"
	default:
		return "unknown"
	}
}

// Region is a span of native memory plus its ownership.
type Region struct {
	Addr      uintptr
	Size      uintptr
	Align     uintptr
	Ownership Ownership
}

// Borrow describes memory the caller owns.
func Borrow(addr, size uintptr) Region {
	return Region{Addr: addr, Size: size, Align: 1, Ownership: Borrowed}
}

// Slot wraps a raw argument word, as libffi hands them to closures.
func Slot(word uintptr) Region {
	return Region{Addr: word, Size: abi.PtrSize, Align: abi.PtrSize, Ownership: Word}
}

// Pointer returns the region address as a host pointer value.
func (r Region) Pointer() ffiruntime.Pointer {
	return ffiruntime.Pointer(r.Addr)
}

type Allocation struct {
	Ptr         uintptr
	Size        uintptr
	Align       uintptr
	Transferred bool
}

// AllocationList records every block an encoding produced. Owned blocks are
// freed by Free; transferred blocks are only listed as NativeOwned and freed
// by FreeAll.
type AllocationList struct {
	allocations []Allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &AllocationList{allocations: make([]Allocation, 0, 8)}
	},
}

func NewAllocationList() *AllocationList {
	return allocationListPool.Get().(*AllocationList)
}

const maxPooledAllocationCapacity = 128

// Release returns to pool. Must call after Free(); list invalid after Release.
func (al *AllocationList) Release() {
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.Reset()
	allocationListPool.Put(al)
}

func (al *AllocationList) FreeAndRelease(allocator Allocator) {
	al.Free(allocator)
	al.Release()
}

func (al *AllocationList) Add(ptr, size, align uintptr) {
	al.allocations = append(al.allocations, Allocation{
		Ptr:   ptr,
		Size:  size,
		Align: align,
	})
}

// Transfer records a block whose ownership moved to native code.
func (al *AllocationList) Transfer(ptr, size, align uintptr) {
	al.allocations = append(al.allocations, Allocation{
		Ptr:         ptr,
		Size:        size,
		Align:       align,
		Transferred: true,
	})
}

// NativeOwned lists the transferred blocks.
func (al *AllocationList) NativeOwned() []ffiruntime.NativeOwned {
	var out []ffiruntime.NativeOwned
	for _, a := range al.allocations {
		if a.Transferred {
			out = append(out, ffiruntime.NativeOwned{Ptr: a.Ptr, Size: a.Size, Align: a.Align})
		}
	}
	return out
}

// Free releases owned blocks only; transferred blocks stay with native code.
func (al *AllocationList) Free(allocator Allocator) {
	if allocator == nil {
		return
	}
	for _, a := range al.allocations {
		if a.Ptr != 0 && !a.Transferred {
			allocator.Free(a.Ptr)
		}
	}
}

// FreeAll releases every block, reclaiming transferred ones too. Use only
// when the native contract says the callee kept no references.
func (al *AllocationList) FreeAll(allocator Allocator) {
	if allocator == nil {
		return
	}
	for _, a := range al.allocations {
		if a.Ptr != 0 {
			allocator.Free(a.Ptr)
		}
	}
}

// Merge moves the entries of other into al.
func (al *AllocationList) Merge(other *AllocationList) {
	if other == nil {
		return
	}
	al.allocations = append(al.allocations, other.allocations...)
	other.Reset()
}

func (al *AllocationList) Reset() {
	al.allocations = al.allocations[:0]
}

func (al *AllocationList) Count() int {
	return len(al.allocations)
}
