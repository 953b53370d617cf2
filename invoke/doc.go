// Package invoke calls native functions through libffi, without cgo.
//
// A CallInterface is prepared once per signature from NativeKind values
// (derived from descriptors with KindOf) and can then be invoked any number
// of times with argument addresses produced by transcoder.Encoder.EncodeArg:
//
//	ci, err := invoke.PrepareSignature(
//	    []descriptor.Type{descriptor.CString}, descriptor.U64)
//	err = ci.Invoke(strlen, []uintptr{arg.Addr}, ret.Addr)
//
// Structs passed by value are described to libffi element by element;
// arrays and indirect structs are passed as pointers.
package invoke
