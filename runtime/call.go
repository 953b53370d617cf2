package runtime

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/invoke"
	"github.com/wippyai/ffi-runtime/transcoder"
)

// returnAlign covers every scalar and long double sized return.
const returnAlign = 16

// CallOptions tune how a call treats memory and errno.
type CallOptions struct {
	// Errno captures the thread's errno right after the call.
	Errno bool
	// FreeResultMemory frees strings and blocks a pointer-carrying result
	// points to, using the C allocator, once they are decoded.
	FreeResultMemory bool
	// FreeArgs frees every argument allocation after the call, including
	// blocks whose ownership moved to native code.
	FreeArgs bool
	// Scope keeps callback trampolines and transferred allocations alive
	// past the call. Without one, trampolines made for this call are
	// released when it returns.
	Scope *Scope
}

// CallRequest names a function by library and symbol, or by address.
type CallRequest struct {
	Library string
	Func    string
	Addr    ffiruntime.Pointer
	Signature
	Args []any
	CallOptions
}

// Result is the decoded return value of a call.
type Result struct {
	Value        any
	Errno        int32
	ErrnoMessage string
	// Transferred lists argument blocks now owned by native code. They are
	// reported only when the call had no Scope to adopt them.
	Transferred []ffiruntime.NativeOwned
}

// Call marshals Args, invokes the function and decodes its result.
// The call itself cannot be interrupted; ctx is checked before it starts.
func (r *Runtime) Call(ctx context.Context, req CallRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, errors.Wrap(errors.PhaseInvoke, errors.KindClosed, err, "context done before call")
	}
	if err := r.checkOpen(errors.PhaseInvoke); err != nil {
		return Result{}, err
	}
	fn, err := r.resolve(req.Library, req.Func, req.Addr)
	if err != nil {
		return Result{}, err
	}
	return r.call(fn, req)
}

func (r *Runtime) resolve(library, name string, addr ffiruntime.Pointer) (ffiruntime.Pointer, error) {
	if addr != 0 {
		return addr, nil
	}
	if name == "" {
		return 0, errors.InvalidInput(errors.PhaseInvoke, "call needs a function name or address")
	}
	lib, ok := r.Library(library)
	if !ok {
		return 0, errors.NotFound(errors.PhaseInvoke, "library", library)
	}
	return lib.Symbol(name)
}

// callInterface returns the prepared interface for sig, preparing and
// caching it on first use.
func (r *Runtime) callInterface(sig Signature) (*invoke.CallInterface, error) {
	key := sig.String()
	if ci, ok := r.cifs.Load(key); ok {
		return ci.(*invoke.CallInterface), nil
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	var (
		ci  *invoke.CallInterface
		err error
	)
	if sig.Variadic {
		ci, err = invoke.PrepareVariadicSignature(sig.Fixed, sig.Params, sig.ret())
	} else {
		ci, err = invoke.PrepareSignature(sig.Params, sig.ret())
	}
	if err != nil {
		return nil, err
	}
	actual, _ := r.cifs.LoadOrStore(key, ci)
	return actual.(*invoke.CallInterface), nil
}

func (r *Runtime) call(fn ffiruntime.Pointer, req CallRequest) (res Result, err error) {
	id := uuid.NewString()
	log := r.logger.With(zap.String("call_id", id))
	log.Debug("call",
		zap.String("library", req.Library),
		zap.String("func", req.Func),
		zap.Stringer("addr", fn),
		zap.Stringer("signature", req.Signature),
	)

	ci, err := r.callInterface(req.Signature)
	if err != nil {
		return Result{}, err
	}
	if len(req.Args) != len(req.Params) {
		return Result{}, errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Value(len(req.Args)).
			Detail("expected %d arguments, got %d", len(req.Params), len(req.Args)).
			Build()
	}
	if req.Errno && r.libc == nil {
		return Result{}, errors.Unsupported(errors.PhaseInvoke, "errno capture without libc")
	}

	scope := req.Scope
	if scope == nil {
		scope = r.newScope(false)
		defer func() {
			if cerr := scope.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	enc := transcoder.NewEncoder(r.mem, r.alloc, transcoder.WithLayout(r.layout))
	allocs := enc.Allocations()
	invoked := false
	defer func() {
		switch {
		case !invoked || req.FreeArgs:
			allocs.FreeAll(r.alloc)
		default:
			transferred := allocs.NativeOwned()
			allocs.Free(r.alloc)
			if req.Scope != nil {
				req.Scope.Adopt(transferred...)
			} else {
				res.Transferred = transferred
			}
		}
		allocs.Release()
	}()

	slots := make([]uintptr, len(req.Params))
	for i, t := range req.Params {
		v := req.Args[i]
		if cb, ok := t.(*descriptor.Callback); ok {
			if v, err = scope.Bind(cb, v); err != nil {
				return Result{}, argError(i, err)
			}
		}
		region, err := enc.EncodeArg(t, v)
		if err != nil {
			return Result{}, argError(i, err)
		}
		slots[i] = region.Addr
	}

	size := ci.ReturnSize()
	retBuf, err := r.alloc.Alloc(size, returnAlign)
	if err != nil {
		return Result{}, err
	}
	defer r.alloc.Free(retBuf)

	if req.Errno {
		res.Errno, err = ci.InvokeErrno(uintptr(fn), slots, retBuf, r.libc)
		if res.Errno != 0 {
			res.ErrnoMessage = r.libc.Strerror(res.Errno)
		}
	} else {
		err = ci.Invoke(uintptr(fn), slots, retBuf)
	}
	if err != nil {
		return Result{}, err
	}
	invoked = true

	ret := req.ret()
	dec := r.decoder
	if req.FreeResultMemory {
		dec = r.owned
	}
	res.Value, err = dec.DecodeArg(ret, transcoder.Borrow(retBuf, size))
	if err != nil {
		return res, err
	}
	if req.FreeResultMemory {
		if err := r.freeResult(ret, retBuf, size); err != nil {
			return res, err
		}
	}
	log.Debug("call returned", zap.Int32("errno", res.Errno))
	return res, nil
}

// freeResult hands the blocks a decoded result points to back to the C
// allocator. Opaque pointers are left alone.
func (r *Runtime) freeResult(t descriptor.Type, retBuf, size uintptr) error {
	if r.libc == nil {
		return errors.Unsupported(errors.PhaseRuntime, "freeing result memory without libc")
	}
	if s, ok := t.(*descriptor.Struct); ok && s.Storage == descriptor.Inline {
		return r.decoder.Reclaim(t, transcoder.Borrow(retBuf, size), r.libc)
	}
	word, err := r.mem.ReadU64(retBuf)
	if err != nil {
		return err
	}
	return r.decoder.Reclaim(t, transcoder.Slot(uintptr(word)), r.libc)
}

func argError(i int, err error) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append([]string{"arg[" + strconv.Itoa(i) + "]"}, e.Path...)
		return e
	}
	return err
}
