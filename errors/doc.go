// Package errors provides structured error types for the ffi-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, Go/native type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
//		Path("point", "x").
//		GoType("string").
//		NativeType("i32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseEncode, path, "string", "i32")
//	err := errors.LengthRequired(path, "[]i32")
//
// All errors implement the standard error interface and support errors.Is/As.
// Nothing in the library panics across the native boundary; failures surface
// as *Error values.
package errors
