package callback

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/jupiterrider/ffi"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/invoke"
	"github.com/wippyai/ffi-runtime/resource"
)

// MaxArity is the largest number of parameters a trampoline accepts.
const MaxArity = descriptor.MaxCallbackParams

// Func handles one callback invocation. args hold the decoded parameters
// in declaration order. The result is encoded as the native return value
// for Blocking callbacks and ignored otherwise.
type Func func(ctx context.Context, args []any) (any, error)

// State is the lifecycle position of a trampoline.
type State uint8

const (
	Created State = iota
	Invoked
	Released
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Invoked:
		return "invoked"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Trampoline is a native function pointer that delivers its calls to a Go
// handler.
type Trampoline struct {
	sig     *descriptor.Callback
	fn      Func
	ci      *invoke.CallInterface
	closure *ffi.Closure
	code    unsafe.Pointer
	factory *Factory
	handle  resource.Handle
	calls   atomic.Uint64
	freed   atomic.Bool
	release atomic.Bool
}

// Pointer is the native function pointer to pass to foreign code.
func (t *Trampoline) Pointer() ffiruntime.Pointer {
	return ffiruntime.Pointer(uintptr(t.code))
}

func (t *Trampoline) Handle() resource.Handle { return t.handle }

func (t *Trampoline) Signature() *descriptor.Callback { return t.sig }

// Invocations counts deliveries accepted so far.
func (t *Trampoline) Invocations() uint64 { return t.calls.Load() }

func (t *Trampoline) State() State {
	switch {
	case t.release.Load():
		return Released
	case t.calls.Load() > 0:
		return Invoked
	default:
		return Created
	}
}

// Release frees the trampoline through its factory.
func (t *Trampoline) Release() error {
	return t.factory.release(t)
}

// is reports whether a table slot still holds t; handles are reused once
// a trampoline is dropped.
func (t *Trampoline) is(v any) bool {
	other, ok := v.(*Trampoline)
	return ok && other == t
}

// Drop frees the libffi closure. It runs when the trampoline leaves the
// resource table.
func (t *Trampoline) Drop() {
	if !t.freed.CompareAndSwap(false, true) {
		return
	}
	t.release.Store(true)
	closures.Delete(t.ci.Cif())
	ffi.ClosureFree(t.closure)
}
