package native

import (
	"unsafe"

	"github.com/wippyai/ffi-runtime/errors"
)

// ptr converts a native address to unsafe.Pointer without the
// uintptr->Pointer conversion pattern that checkptr rejects. Addresses
// handled here never point into the Go heap.
func ptr(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

// Memory accesses the memory of the current process by absolute address.
// Only null is rejected; the caller vouches for every other address.
type Memory struct{}

func (Memory) check(addr uintptr) error {
	if addr == 0 {
		return errors.NilPointer(errors.PhaseRuntime, nil, "memory")
	}
	return nil
}

func (m Memory) Read(addr uintptr, length uintptr) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if err := m.check(addr); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, unsafe.Slice((*byte)(ptr(addr)), length))
	return out, nil
}

// View aliases native memory without copying. The slice is valid only as
// long as the native block is.
func (m Memory) View(addr uintptr, length uintptr) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if err := m.check(addr); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr(addr)), length), nil
}

func (m Memory) Write(addr uintptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := m.check(addr); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(ptr(addr)), len(data)), data)
	return nil
}

func (m Memory) ReadU8(addr uintptr) (uint8, error) {
	if err := m.check(addr); err != nil {
		return 0, err
	}
	return *(*uint8)(ptr(addr)), nil
}

func (m Memory) ReadU16(addr uintptr) (uint16, error) {
	if err := m.check(addr); err != nil {
		return 0, err
	}
	return *(*uint16)(ptr(addr)), nil
}

func (m Memory) ReadU32(addr uintptr) (uint32, error) {
	if err := m.check(addr); err != nil {
		return 0, err
	}
	return *(*uint32)(ptr(addr)), nil
}

func (m Memory) ReadU64(addr uintptr) (uint64, error) {
	if err := m.check(addr); err != nil {
		return 0, err
	}
	return *(*uint64)(ptr(addr)), nil
}

func (m Memory) WriteU8(addr uintptr, value uint8) error {
	if err := m.check(addr); err != nil {
		return err
	}
	*(*uint8)(ptr(addr)) = value
	return nil
}

func (m Memory) WriteU16(addr uintptr, value uint16) error {
	if err := m.check(addr); err != nil {
		return err
	}
	*(*uint16)(ptr(addr)) = value
	return nil
}

func (m Memory) WriteU32(addr uintptr, value uint32) error {
	if err := m.check(addr); err != nil {
		return err
	}
	*(*uint32)(ptr(addr)) = value
	return nil
}

func (m Memory) WriteU64(addr uintptr, value uint64) error {
	if err := m.check(addr); err != nil {
		return err
	}
	*(*uint64)(ptr(addr)) = value
	return nil
}

// Strlen returns the number of bytes before the NUL terminator at addr.
func (m Memory) Strlen(addr uintptr, limit uintptr) (uintptr, error) {
	if err := m.check(addr); err != nil {
		return 0, err
	}
	for n := uintptr(0); n < limit; n++ {
		if *(*byte)(ptr(addr + n)) == 0 {
			return n, nil
		}
	}
	return 0, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
		Detail("no NUL terminator within %d bytes", limit).
		Build()
}
