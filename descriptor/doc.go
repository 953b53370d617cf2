// Package descriptor models the native shape of values crossing the
// foreign-function boundary.
//
// A Type is one of a closed set of variants: Primitive leaves (integers,
// floats, bool, void, opaque pointers, C strings and wide strings), Array,
// Struct, StructArray and Callback. Composites carry a Storage that says
// whether they are embedded inline in their parent or referenced through a
// pointer.
//
// # Documents
//
// At the host boundary descriptors travel as ordered key-value documents.
// Leaves are numeric tags or type names; structs are ordered maps of field
// name to descriptor; arrays and callbacks are maps tagged by the reserved
// TagKey:
//
//	point:
//	  x: i32
//	  y: i32
//	samples:
//	  ffiTypeTag: array
//	  type: f64
//	  length: 4
//	on_event:
//	  ffiTypeTag: function
//	  paramsType: [i32, string]
//	  retType: void
//
// Field order in a struct document is significant: it fixes field offsets.
package descriptor
