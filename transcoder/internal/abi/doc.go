// Package abi holds the low-level helpers shared by the layout calculator,
// encoder and decoder: checked size arithmetic, alignment, numeric
// coercion from loosely typed host values, and wchar_t conversion.
//
// This package is internal to the transcoder.
package abi
