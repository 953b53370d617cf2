// Package runtime is the high-level API for calling native libraries.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if _, err := rt.Open("libc", "libc.so.6"); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := rt.Call(ctx, runtime.CallRequest{
//	    Library:   "libc",
//	    Func:      "strlen",
//	    Signature: runtime.Signature{Params: []descriptor.Type{descriptor.CString}, Return: descriptor.U64},
//	    Args:      []any{"hello"},
//	})
//	fmt.Println(res.Value) // 5
//
// # Defining Functions
//
// Define resolves a set of symbols once and returns bound functions;
// missing symbols are reported together:
//
//	funcs, err := rt.Define("libc", map[string]runtime.Signature{
//	    "abs": {Params: []descriptor.Type{descriptor.I32}, Return: descriptor.I32},
//	})
//	v, err := funcs["abs"].Call(ctx, int32(-4))
//
// Bind does the same for a struct of typed Go funcs, deriving signatures
// from the Go types.
//
// # Callbacks and Scopes
//
// Callback parameters accept Go funcs. The trampoline made for one lives
// until the call returns, unless CallOptions.Scope is set, in which case
// it lives until the scope closes. Use a scope whenever native code keeps
// the function pointer, as with signal handlers or event registrations.
//
// # Pointers
//
// CreatePointer, RestorePointer, WrapPointer and UnwrapPointer move values
// through native memory by address. FreePointer releases them: PointerOwned
// for runtime-created pointers, PointerForeign for memory native code
// allocated with malloc.
//
// # Thread Safety
//
// A Runtime is safe for concurrent use. CallAll runs a batch with bounded
// concurrency; CallAsync runs one call on its own goroutine.
package runtime
