package ffiruntime

import "strconv"

// Memory reads and writes native process memory at absolute addresses.
type Memory interface {
	Read(addr uintptr, length uintptr) ([]byte, error)
	Write(addr uintptr, data []byte) error
	ReadU8(addr uintptr) (uint8, error)
	ReadU16(addr uintptr) (uint16, error)
	ReadU32(addr uintptr) (uint32, error)
	ReadU64(addr uintptr) (uint64, error)
	WriteU8(addr uintptr, value uint8) error
	WriteU16(addr uintptr, value uint16) error
	WriteU32(addr uintptr, value uint32) error
	WriteU64(addr uintptr, value uint64) error
}

// Allocator hands out native memory blocks.
// Blocks must not live on the Go heap: native code keeps raw addresses to them.
type Allocator interface {
	Alloc(size, align uintptr) (uintptr, error)
	Free(ptr uintptr)
}

// Pointer is an opaque native address carried through host values.
// It is how external handles, function pointers and pointer results surface.
type Pointer uintptr

// IsNull reports whether p is the null pointer.
func (p Pointer) IsNull() bool { return p == 0 }

func (p Pointer) String() string {
	return "0x" + strconv.FormatUint(uint64(p), 16)
}

// NativeOwned marks a block whose ownership moved to native code.
// The marshaller never frees a NativeOwned block on its own; callers that
// know the native contract may hand it back to the allocator explicitly.
type NativeOwned struct {
	Ptr   uintptr
	Size  uintptr
	Align uintptr
}

// Reclaim frees the block through alloc, ending the transfer.
func (n NativeOwned) Reclaim(alloc Allocator) {
	if n.Ptr != 0 && alloc != nil {
		alloc.Free(n.Ptr)
	}
}
