package runtime

import (
	"context"
	"sort"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/errors"
)

// Func is a library function bound to a fixed signature. Its symbol and
// call interface are resolved once, by Define.
type Func struct {
	rt   *Runtime
	lib  *Library
	name string
	addr ffiruntime.Pointer
	sig  Signature
}

func (f *Func) Name() string { return f.name }

func (f *Func) Library() string { return f.lib.Name() }

func (f *Func) Signature() Signature { return f.sig }

func (f *Func) Addr() ffiruntime.Pointer { return f.addr }

// Call invokes the function and returns its decoded value. Errno is
// captured when the runtime is configured to capture it.
func (f *Func) Call(ctx context.Context, args ...any) (any, error) {
	res, err := f.CallWith(ctx, CallOptions{Errno: f.rt.errno && f.rt.libc != nil}, args...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// CallWith invokes the function with explicit options.
func (f *Func) CallWith(ctx context.Context, opts CallOptions, args ...any) (Result, error) {
	return f.rt.Call(ctx, CallRequest{
		Library:     f.lib.Name(),
		Func:        f.name,
		Addr:        f.addr,
		Signature:   f.sig,
		Args:        args,
		CallOptions: opts,
	})
}

// Define resolves every function in sigs from library and prepares its
// call interface. When symbols are missing nothing is defined and the
// error is a *errors.MissingSymbolsError naming all of them.
func (r *Runtime) Define(library string, sigs map[string]Signature) (map[string]*Func, error) {
	if err := r.checkOpen(errors.PhaseLoad); err != nil {
		return nil, err
	}
	lib, ok := r.Library(library)
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "library", library)
	}

	names := make([]string, 0, len(sigs))
	for name := range sigs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]*Func, len(sigs))
	var missing []string
	for _, name := range names {
		addr, err := lib.Symbol(name)
		if err != nil {
			if isKind(err, errors.KindNotFound) {
				missing = append(missing, library+"#"+name)
				continue
			}
			return nil, err
		}
		sig := sigs[name]
		if _, err := r.callInterface(sig); err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Path(library, name).
				Cause(err).
				Detail("prepare %s", sig).
				Build()
		}
		out[name] = &Func{rt: r, lib: lib, name: name, addr: addr, sig: sig}
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingSymbolsError(missing)
	}

	r.mu.Lock()
	for name, fn := range out {
		r.funcs[library+"#"+name] = fn
	}
	r.mu.Unlock()
	return out, nil
}

// Func returns a function previously defined on library.
func (r *Runtime) Func(library, name string) (*Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[library+"#"+name]
	return fn, ok
}
