package callback

import (
	"context"
	"sync"
	"unsafe"

	"github.com/jupiterrider/ffi"
	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/invoke"
	"github.com/wippyai/ffi-runtime/resource"
	"github.com/wippyai/ffi-runtime/transcoder"
)

// ErrorHook observes handler failures. They never reach native code.
type ErrorHook func(t *Trampoline, err error)

// Option configures a Factory.
type Option func(*Factory)

// WithTable registers trampolines in table instead of a private one.
func WithTable(table *resource.UnifiedTable) Option {
	return func(f *Factory) { f.table = table }
}

// WithDispatcher shares a dispatcher between factories. The factory does
// not close a dispatcher it did not create.
func WithDispatcher(d *Dispatcher) Option {
	return func(f *Factory) { f.dispatcher = d }
}

// WithQueueSize sizes the dispatcher the factory creates.
func WithQueueSize(n int) Option {
	return func(f *Factory) { f.queueSize = n }
}

func WithLayout(lc *transcoder.LayoutCalculator) Option {
	return func(f *Factory) { f.layout = lc }
}

func WithErrorHook(h ErrorHook) Option {
	return func(f *Factory) { f.onError = h }
}

// WithContext sets the context handed to every handler.
func WithContext(ctx context.Context) Option {
	return func(f *Factory) { f.ctx = ctx }
}

// Factory makes trampolines and owns their lifetime.
type Factory struct {
	ctx        context.Context
	mem        transcoder.Memory
	alloc      transcoder.Allocator
	layout     *transcoder.LayoutCalculator
	decoder    *transcoder.Decoder
	table      *resource.UnifiedTable
	dispatcher *Dispatcher
	onError    ErrorHook
	queueSize  int
	ownTable   bool
	ownDisp    bool
	mu         sync.RWMutex
	closed     bool
}

// NewFactory creates a factory. mem decodes callback arguments; alloc
// backs strings returned from Blocking handlers.
func NewFactory(mem transcoder.Memory, alloc transcoder.Allocator, opts ...Option) *Factory {
	f := &Factory{mem: mem, alloc: alloc}
	for _, opt := range opts {
		opt(f)
	}
	if f.ctx == nil {
		f.ctx = context.Background()
	}
	if f.layout == nil {
		f.layout = transcoder.NewLayoutCalculator()
	}
	if f.table == nil {
		f.table = resource.NewTable()
		f.ownTable = true
	}
	if f.dispatcher == nil {
		f.dispatcher = NewDispatcher(f.queueSize)
		f.ownDisp = true
	}
	f.decoder = transcoder.NewDecoder(mem,
		transcoder.WithDecoderLayout(f.layout),
		transcoder.CallbackSafe(),
	)
	return f
}

// Make builds a trampoline for sig that delivers to fn.
func (f *Factory) Make(sig *descriptor.Callback, fn Func) (*Trampoline, error) {
	if sig == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil callback signature")
	}
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil callback handler")
	}
	if sig.Arity() > MaxArity {
		return nil, errors.New(errors.PhaseCallback, errors.KindUnsupported).
			Detail("callback arity %d exceeds maximum %d", sig.Arity(), MaxArity).
			Build()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, errors.Closed(errors.PhaseCallback, "trampoline factory")
	}

	ci, err := invoke.PrepareClosure(sig)
	if err != nil {
		return nil, err
	}

	var code unsafe.Pointer
	closure := ffi.ClosureAlloc(unsafe.Sizeof(ffi.Closure{}), &code)
	if closure == nil || code == nil {
		return nil, errors.New(errors.PhaseCallback, errors.KindAllocation).
			Detail("ffi_closure_alloc failed").
			Build()
	}

	t := &Trampoline{
		sig:     sig,
		fn:      fn,
		ci:      ci,
		closure: closure,
		code:    code,
		factory: f,
	}
	closures.Store(ci.Cif(), t)

	if status := ffi.PrepClosureLoc(closure, ci.Cif(), entryPoint(), nil, code); status != ffi.OK {
		closures.Delete(ci.Cif())
		ffi.ClosureFree(closure)
		return nil, errors.New(errors.PhaseCallback, errors.KindExternal).
			Value(int(status)).
			Detail("ffi_prep_closure_loc failed with status %d", int(status)).
			Build()
	}

	h, err := f.table.InsertErr(resource.KindTrampoline, uintptr(code), t)
	if err != nil {
		t.Drop()
		return nil, err
	}
	t.handle = h

	Logger().Debug("trampoline created",
		zap.Uint32("handle", uint32(h)),
		zap.Stringer("signature", sig),
		zap.Stringer("pointer", t.Pointer()))
	return t, nil
}

// Get returns the live trampoline behind handle.
func (f *Factory) Get(h resource.Handle) (*Trampoline, bool) {
	v, ok := f.table.GetKind(h, resource.KindTrampoline)
	if !ok {
		return nil, false
	}
	return v.(*Trampoline), true
}

// Lookup resolves a native function pointer to its trampoline.
func (f *Factory) Lookup(p ffiruntime.Pointer) (*Trampoline, bool) {
	h, ok := f.table.Lookup(uintptr(p))
	if !ok {
		return nil, false
	}
	return f.Get(h)
}

// Release frees a trampoline. Calls arriving afterwards are dropped and
// return zero. A trampoline released while one of its calls is running is
// freed when that call returns.
func (f *Factory) Release(h resource.Handle) error {
	t, ok := f.Get(h)
	if !ok {
		return errors.NotFound(errors.PhaseCallback, "trampoline", h.String())
	}
	return f.release(t)
}

func (f *Factory) release(t *Trampoline) error {
	if t.freed.Load() {
		return errors.NotFound(errors.PhaseCallback, "trampoline", t.handle.String())
	}
	t.release.Store(true)
	if _, removed := f.table.RemoveIf(t.handle, t.is); removed {
		Logger().Debug("trampoline released", zap.Uint32("handle", uint32(t.handle)))
	}
	return nil
}

// Len is the number of live trampolines.
func (f *Factory) Len() int {
	n := 0
	f.table.Each(resource.KindTrampoline, func(resource.Handle, any) bool {
		n++
		return true
	})
	return n
}

// Dispatcher returns the dispatcher deliveries run on.
func (f *Factory) Dispatcher() *Dispatcher { return f.dispatcher }

// Close drains pending deliveries and frees every trampoline.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	if f.ownDisp {
		_ = f.dispatcher.Close()
	}

	var handles []resource.Handle
	f.table.Each(resource.KindTrampoline, func(h resource.Handle, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		_ = f.Release(h)
	}
	if f.ownTable {
		return f.table.Close()
	}
	return nil
}

func (f *Factory) fail(t *Trampoline, err error) {
	Logger().Error("callback failed",
		zap.Uint32("handle", uint32(t.handle)),
		zap.Stringer("signature", t.sig),
		zap.Error(err))
	if f.onError != nil {
		f.onError(t, err)
	}
}
