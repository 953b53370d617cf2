// Package ffiruntime calls exported functions of native shared libraries at
// runtime, without compile-time bindings, by describing argument and return
// types as data.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ffiruntime/          Root package with Memory, Allocator and Pointer
//	├── runtime/         High-level API: libraries, calls, scopes, pointers
//	├── descriptor/      Type descriptors and descriptor documents
//	├── transcoder/      Host <-> native marshalling driven by descriptors
//	├── invoke/          libffi call interfaces and invocation
//	├── callback/        Native-callable trampolines for Go functions
//	├── native/          Process memory, allocators, errno, dlopen
//	├── resource/        Handle tables for trampolines, pointers, libraries
//	├── config/          TOML configuration
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if err := rt.Open("libc", "libc.so.6"); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := rt.Call(ctx, runtime.CallRequest{
//	    Library: "libc",
//	    Func:    "strlen",
//	    Return:  descriptor.U64,
//	    Params:  []descriptor.Type{descriptor.CString},
//	    Args:    []any{"hello"},
//	})
//	fmt.Println(res.Value) // 5
//
// # Descriptors
//
// Every value crossing the boundary is described by a descriptor.Type:
//
//   - Primitives: u8, i16, i32, i64, u32, u64, f32, f64, bool, void, pointer
//   - Strings: NUL-terminated UTF-8 and wide (wchar_t) strings
//   - Arrays: fixed or dynamic, inline in the parent or behind a pointer
//   - Structs: ordered fields, inline or behind a pointer, and arrays of them
//   - Callbacks: Go functions exposed to native code through trampolines
//
// # Memory Ownership
//
// Strings and arrays written for a call are handed to native code and are
// recorded as NativeOwned blocks instead of being freed when the call returns.
// Callers reclaim them explicitly when the native contract allows it.
package ffiruntime
