package abi

import (
	"math"
	"reflect"
	"unsafe"
)

// PtrSize is the width of a native pointer and of one argument word.
const PtrSize = unsafe.Sizeof(uintptr(0))

// MinAllocSize and MinAllocAlign replace zero-size allocation requests,
// such as an empty struct, with the smallest block a native int needs.
const (
	MinAllocSize  = 4
	MinAllocAlign = 4
)

const (
	MaxStringSize  = 1 << 30 // 1 GB max string size
	MaxArrayLength = 1 << 27 // 128M max elements
	MaxAlloc       = 1 << 30 // 1 GB max single allocation
)

func SafeMul(a, b uintptr) (uintptr, bool) {
	if b != 0 && a > math.MaxUint/b {
		return 0, false
	}
	return a * b, true
}

func SafeAdd(a, b uintptr) (uintptr, bool) {
	if a > math.MaxUint-b {
		return 0, false
	}
	return a + b, true
}

// TypeName returns "nil" for nil values, avoiding reflect.TypeOf(nil) panic.
func TypeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}

// AlignTo rounds offset up to the next multiple of align.
func AlignTo(offset, align uintptr) uintptr {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) / align * align
}

// Padding is the number of bytes needed to bring offset to align.
func Padding(offset, align uintptr) uintptr {
	if align == 0 {
		return 0
	}
	return (align - offset%align) % align
}

// AllocShape substitutes the minimum allocatable unit for empty layouts.
func AllocShape(size, align uintptr) (uintptr, uintptr) {
	if size == 0 {
		return MinAllocSize, max(align, MinAllocAlign)
	}
	if align == 0 {
		align = 1
	}
	return size, align
}
