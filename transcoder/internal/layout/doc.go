// Package layout computes the C layout of descriptors: size, alignment and
// field offsets as the platform C compiler would place them.
//
// # Layout Rules
//
//   - Primitives: sizes and alignments of the matching Go types
//   - Structs: fields placed in declaration order, each at the next offset
//     aligned for it; total size padded to the largest alignment
//   - Inline arrays: element stride times length
//   - Indirect composites, strings and callbacks: one pointer
//
// # Usage
//
//	c := layout.NewCalculator()
//	info, err := c.Calculate(t)
//	// info.Size, info.Align, info.Offsets available
//
// This package is internal to the transcoder.
package layout
