// Package callback turns Go functions into native function pointers.
//
// A Factory builds one libffi closure per Trampoline. Native calls through
// the closure are decoded on the calling thread and delivered to the Go
// handler on the factory's Dispatcher, a single goroutine that runs
// deliveries in arrival order:
//
//	sig, _ := descriptor.NewCallback(
//	    []descriptor.Type{descriptor.Pointer, descriptor.Pointer},
//	    descriptor.I32, descriptor.Blocking)
//	t, err := factory.Make(sig, func(ctx context.Context, args []any) (any, error) {
//	    return compare(args[0], args[1]), nil
//	})
//	defer t.Release()
//
//	// t.Pointer() is passed to native code as the comparator.
//
// NonBlocking callbacks return zero to native code at once; Blocking ones
// wait for the handler and hand its result back. Handler errors and panics
// are logged and reported to the ErrorHook; native code sees a zero result.
package callback
