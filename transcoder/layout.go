package transcoder

import (
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/transcoder/internal/abi"
	"github.com/wippyai/ffi-runtime/transcoder/internal/layout"
)

type LayoutInfo = layout.Info

// PtrSize is the size of a native pointer.
const PtrSize = abi.PtrSize

// LayoutCalculator computes and memoizes C layouts of descriptors.
type LayoutCalculator struct {
	calc *layout.Calculator
}

func NewLayoutCalculator() *LayoutCalculator {
	return &LayoutCalculator{
		calc: layout.NewCalculator(),
	}
}

// Calculate returns the footprint of t inside a parent block.
func (lc *LayoutCalculator) Calculate(t descriptor.Type) (LayoutInfo, error) {
	return lc.calc.Calculate(t)
}

// Block returns the layout of the memory block a composite points to.
func (lc *LayoutCalculator) Block(t descriptor.Type) (LayoutInfo, error) {
	return lc.calc.Block(t)
}

// Sized returns the block layout of an array holding n elements.
func (lc *LayoutCalculator) Sized(t descriptor.Type, n int) (LayoutInfo, error) {
	return lc.calc.Sized(t, n)
}

// ArgInfo returns the layout of t as a call argument.
func (lc *LayoutCalculator) ArgInfo(t descriptor.Type) (LayoutInfo, error) {
	return lc.calc.ArgInfo(t)
}

// FieldOffset returns the byte offset of a named struct field.
func (lc *LayoutCalculator) FieldOffset(s *descriptor.Struct, name string) (uintptr, bool) {
	info, err := lc.calc.Block(s)
	if err != nil {
		return 0, false
	}
	for i, f := range s.Fields {
		if f.Name == name {
			return info.Offsets[i], true
		}
	}
	return 0, false
}
