package abi

import (
	"math"

	"fortio.org/safecast"

	ffiruntime "github.com/wippyai/ffi-runtime"
)

type numClass uint8

const (
	numNone numClass = iota
	numSigned
	numUnsigned
	numFloat
)

// number widens any Go numeric value without loss so it can be range
// checked against a target width.
type number struct {
	i     int64
	u     uint64
	f     float64
	class numClass
}

func widen(value any) number {
	switch v := value.(type) {
	case int:
		return number{i: int64(v), class: numSigned}
	case int8:
		return number{i: int64(v), class: numSigned}
	case int16:
		return number{i: int64(v), class: numSigned}
	case int32:
		return number{i: int64(v), class: numSigned}
	case int64:
		return number{i: v, class: numSigned}
	case uint:
		return number{u: uint64(v), class: numUnsigned}
	case uint8:
		return number{u: uint64(v), class: numUnsigned}
	case uint16:
		return number{u: uint64(v), class: numUnsigned}
	case uint32:
		return number{u: uint64(v), class: numUnsigned}
	case uint64:
		return number{u: v, class: numUnsigned}
	case uintptr:
		return number{u: uint64(v), class: numUnsigned}
	case ffiruntime.Pointer:
		return number{u: uint64(v), class: numUnsigned}
	case float32:
		return number{f: float64(v), class: numFloat}
	case float64:
		return number{f: v, class: numFloat}
	}
	return number{}
}

func integral(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}

// CoerceToInt64 handles JSON decoded numbers (float64) and every Go integer type.
func CoerceToInt64(value any) (int64, bool) {
	n := widen(value)
	var (
		out int64
		err error
	)
	switch n.class {
	case numSigned:
		return n.i, true
	case numUnsigned:
		out, err = safecast.Conv[int64](n.u)
	case numFloat:
		if !integral(n.f) {
			return 0, false
		}
		out, err = safecast.Convert[int64](n.f)
	default:
		return 0, false
	}
	return out, err == nil
}

func CoerceToUint64(value any) (uint64, bool) {
	n := widen(value)
	var (
		out uint64
		err error
	)
	switch n.class {
	case numSigned:
		out, err = safecast.Conv[uint64](n.i)
	case numUnsigned:
		return n.u, true
	case numFloat:
		if !integral(n.f) {
			return 0, false
		}
		out, err = safecast.Convert[uint64](n.f)
	default:
		return 0, false
	}
	return out, err == nil
}

func CoerceToInt32(value any) (int32, bool) {
	if n := widen(value); n.class == numUnsigned {
		v, err := safecast.Conv[int32](n.u)
		return v, err == nil
	}
	v, ok := CoerceToInt64(value)
	if !ok {
		return 0, false
	}
	out, err := safecast.Conv[int32](v)
	return out, err == nil
}

func CoerceToInt16(value any) (int16, bool) {
	v, ok := CoerceToInt32(value)
	if !ok {
		return 0, false
	}
	out, err := safecast.Conv[int16](v)
	return out, err == nil
}

func CoerceToUint32(value any) (uint32, bool) {
	v, ok := CoerceToUint64(value)
	if !ok {
		return 0, false
	}
	out, err := safecast.Conv[uint32](v)
	return out, err == nil
}

func CoerceToUint8(value any) (uint8, bool) {
	v, ok := CoerceToUint64(value)
	if !ok {
		return 0, false
	}
	out, err := safecast.Conv[uint8](v)
	return out, err == nil
}

// CoerceToFloat64 accepts any numeric value; integers beyond 2^53 lose precision.
func CoerceToFloat64(value any) (float64, bool) {
	n := widen(value)
	switch n.class {
	case numFloat:
		return n.f, true
	case numSigned:
		return float64(n.i), true
	case numUnsigned:
		return float64(n.u), true
	}
	return 0, false
}

func CoerceToFloat32(value any) (float32, bool) {
	if v, ok := value.(float32); ok {
		return v, true
	}
	f, ok := CoerceToFloat64(value)
	if !ok {
		return 0, false
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, false
	}
	return float32(f), true
}

// CoerceToBool accepts bools and integers (non-zero is true).
func CoerceToBool(value any) (bool, bool) {
	if b, ok := value.(bool); ok {
		return b, true
	}
	n := widen(value)
	switch n.class {
	case numSigned:
		return n.i != 0, true
	case numUnsigned:
		return n.u != 0, true
	}
	return false, false
}

// CoerceToPointer accepts Pointer, uintptr, unsigned integers and nil.
func CoerceToPointer(value any) (ffiruntime.Pointer, bool) {
	if value == nil {
		return 0, true
	}
	n := widen(value)
	if n.class != numUnsigned {
		return 0, false
	}
	if n.u > uint64(^uintptr(0)) {
		return 0, false
	}
	return ffiruntime.Pointer(uintptr(n.u)), true
}
