package callback

import (
	"sync"
	"unsafe"

	"github.com/jupiterrider/ffi"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/transcoder"
)

// Every closure shares one Go entry point; the closure's call interface
// identifies the trampoline.
var (
	closures  sync.Map // *ffi.Cif -> *Trampoline
	entryOnce sync.Once
	entryFn   uintptr
)

func entryPoint() uintptr {
	entryOnce.Do(func() {
		entryFn = ffi.NewCallback(entry)
	})
	return entryFn
}

func entry(cif *ffi.Cif, ret unsafe.Pointer, args *unsafe.Pointer, _ unsafe.Pointer) uintptr {
	v, ok := closures.Load(cif)
	if !ok {
		Logger().Error("call through an unknown closure")
		return 0
	}
	t := v.(*Trampoline)

	var argv []unsafe.Pointer
	if n := t.sig.Arity(); n > 0 {
		argv = unsafe.Slice(args, n)
	}
	t.factory.deliver(t, argv, uintptr(ret))
	return 0
}

// deliver runs on the native caller's thread.
func (f *Factory) deliver(t *Trampoline, argv []unsafe.Pointer, ret uintptr) {
	retRegion := transcoder.Region{Addr: ret, Size: t.ci.ReturnSize(), Ownership: transcoder.Borrowed}
	zero := func() {
		enc := transcoder.NewEncoder(f.mem, nil, transcoder.WithLayout(f.layout))
		_ = enc.EncodeReturn(t.sig.Return, nil, retRegion)
		enc.Allocations().Release()
	}

	if !f.table.PinIf(t.handle, t.is) {
		f.fail(t, errors.Closed(errors.PhaseCallback, "trampoline"))
		zero()
		return
	}
	defer func() {
		f.table.Unpin(t.handle)
		if t.release.Load() {
			f.table.RemoveIf(t.handle, t.is)
		}
	}()

	if t.release.Load() {
		f.fail(t, errors.Closed(errors.PhaseCallback, "trampoline"))
		zero()
		return
	}
	t.calls.Add(1)

	// Arguments only live for the duration of the native call, so they
	// are copied out before the handler is scheduled.
	values := make([]any, len(argv))
	for i, p := range t.sig.Params {
		v, err := f.decoder.DecodeArg(p, transcoder.Borrow(uintptr(argv[i]), t.ci.Args()[i].Size()))
		if err != nil {
			f.fail(t, err)
			zero()
			return
		}
		values[i] = v
	}

	if t.sig.Mode == descriptor.NonBlocking {
		zero()
		if err := f.dispatcher.Dispatch(func() { f.handle(t, values) }, false); err != nil {
			f.fail(t, err)
		}
		return
	}

	var (
		result  any
		handled bool
	)
	err := f.dispatcher.Dispatch(func() {
		result, handled = f.handle(t, values)
	}, true)
	if err != nil {
		f.fail(t, err)
	}
	if err != nil || !handled {
		zero()
		return
	}

	enc := transcoder.NewEncoder(f.mem, f.alloc, transcoder.WithLayout(f.layout))
	defer enc.Allocations().Release()
	if err := enc.EncodeReturn(t.sig.Return, result, retRegion); err != nil {
		f.fail(t, err)
		zero()
	}
}

// handle runs the Go handler with panics contained.
func (f *Factory) handle(t *Trampoline, args []any) (result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.fail(t, errors.New(errors.PhaseCallback, errors.KindExternal).
				Value(r).
				Detail("handler panicked: %v", r).
				Build())
			result, ok = nil, false
		}
	}()
	v, err := t.fn(f.ctx, args)
	if err != nil {
		f.fail(t, errors.Wrap(errors.PhaseCallback, errors.KindExternal, err, "handler returned an error"))
		return nil, false
	}
	return v, true
}
