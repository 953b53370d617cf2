package runtime

import (
	"context"
	"reflect"
	"strconv"
	"sync"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/transcoder"
)

// Scope owns trampolines made for callback arguments and argument blocks
// that native code took over. Native code may keep calling a trampoline
// until its scope is closed.
type Scope struct {
	rt          *Runtime
	trampolines []*callback.Trampoline
	allocs      *transcoder.AllocationList
	tracked     bool
	mu          sync.Mutex
	closed      bool
}

// NewScope creates a scope that lives until Close or until the runtime
// closes.
func (r *Runtime) NewScope() *Scope {
	return r.newScope(true)
}

func (r *Runtime) newScope(tracked bool) *Scope {
	s := &Scope{rt: r, allocs: transcoder.NewAllocationList(), tracked: tracked}
	if tracked {
		r.mu.Lock()
		r.scopes[s] = struct{}{}
		r.mu.Unlock()
	}
	return s
}

// Bind turns value into a function pointer for sig. Accepted values are
// nil, a Pointer, an existing *callback.Trampoline, a callback.Func, or any
// Go func whose parameters match sig, optionally preceded by a
// context.Context, and which returns at most a value and an error.
// Trampolines made here belong to the scope.
func (s *Scope) Bind(sig *descriptor.Callback, value any) (ffiruntime.Pointer, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case ffiruntime.Pointer:
		return v, nil
	case *callback.Trampoline:
		return v.Pointer(), nil
	}

	fn, err := adaptFunc(sig, value)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.Closed(errors.PhaseCallback, "scope")
	}
	t, err := s.rt.factory.Make(sig, fn)
	if err != nil {
		return 0, err
	}
	s.trampolines = append(s.trampolines, t)
	return t.Pointer(), nil
}

// Adopt takes ownership of blocks native code was given; Close frees them.
func (s *Scope) Adopt(owned ...ffiruntime.NativeOwned) {
	if len(owned) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range owned {
		if s.closed {
			o.Reclaim(s.rt.alloc)
			continue
		}
		s.allocs.Transfer(o.Ptr, o.Size, o.Align)
	}
}

// Trampolines returns the number of trampolines the scope owns.
func (s *Scope) Trampolines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trampolines)
}

// Close releases the scope's trampolines and frees adopted blocks.
// It is safe to call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	trampolines := s.trampolines
	s.trampolines = nil
	s.mu.Unlock()

	var firstErr error
	for _, t := range trampolines {
		if t.State() == callback.Released {
			continue
		}
		if err := t.Release(); err != nil && !isKind(err, errors.KindNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if n := s.allocs.Count(); n > 0 {
		s.rt.logger.Debug("scope freeing adopted blocks", zap.Int("count", n))
	}
	s.allocs.FreeAll(s.rt.alloc)
	s.allocs.Release()

	if s.tracked {
		s.rt.mu.Lock()
		delete(s.rt.scopes, s)
		s.rt.mu.Unlock()
	}
	return firstErr
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// adaptFunc wraps a typed Go func as a callback handler. Decoded arguments
// are converted to the func's parameter types; nil becomes the zero value.
func adaptFunc(sig *descriptor.Callback, value any) (callback.Func, error) {
	switch fn := value.(type) {
	case callback.Func:
		return fn, nil
	case func(context.Context, []any) (any, error):
		return fn, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, errors.New(errors.PhaseCallback, errors.KindTypeMismatch).
			GoType(reflect.TypeOf(value).String()).
			NativeType(sig.String()).
			Detail("callback argument must be a function or pointer").
			Build()
	}
	ft := rv.Type()
	if ft.IsVariadic() {
		return nil, signatureMismatch(ft, sig, "variadic funcs cannot be callbacks")
	}
	withCtx := ft.NumIn() > 0 && ft.In(0) == contextType
	offset := 0
	if withCtx {
		offset = 1
	}
	if ft.NumIn()-offset != sig.Arity() {
		return nil, signatureMismatch(ft, sig, "parameter count differs")
	}
	if ft.NumOut() > 2 || (ft.NumOut() == 2 && ft.Out(1) != errorType) {
		return nil, signatureMismatch(ft, sig, "results must be (value, error), value, error or none")
	}
	errOut := -1
	if ft.NumOut() > 0 && ft.Out(ft.NumOut()-1) == errorType {
		errOut = ft.NumOut() - 1
	}

	return func(ctx context.Context, args []any) (any, error) {
		in := make([]reflect.Value, ft.NumIn())
		if withCtx {
			in[0] = reflect.ValueOf(ctx)
		}
		for i, a := range args {
			pt := ft.In(i + offset)
			if a == nil {
				in[i+offset] = reflect.Zero(pt)
				continue
			}
			av := reflect.ValueOf(a)
			switch {
			case av.Type().AssignableTo(pt):
				in[i+offset] = av
			case av.Type().ConvertibleTo(pt):
				in[i+offset] = av.Convert(pt)
			default:
				return nil, errors.New(errors.PhaseCallback, errors.KindTypeMismatch).
					Path("arg[" + strconv.Itoa(i) + "]").
					GoType(av.Type().String()).
					NativeType(pt.String()).
					Build()
			}
		}
		out := rv.Call(in)
		if errOut >= 0 && !out[errOut].IsNil() {
			return nil, out[errOut].Interface().(error)
		}
		if len(out) == 0 || errOut == 0 {
			return nil, nil
		}
		return out[0].Interface(), nil
	}, nil
}

func signatureMismatch(ft reflect.Type, sig *descriptor.Callback, detail string) error {
	return errors.New(errors.PhaseCallback, errors.KindTypeMismatch).
		GoType(ft.String()).
		NativeType(sig.String()).
		Detail("%s", detail).
		Build()
}

func isKind(err error, kind errors.Kind) bool {
	e, ok := err.(*errors.Error)
	return ok && e.Kind == kind
}
