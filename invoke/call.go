package invoke

import (
	"runtime"
	"strconv"
	"unsafe"

	"github.com/jupiterrider/ffi"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
)

// MinReturnSize is sizeof(ffi_arg): libffi widens integral returns to a
// full register, so return buffers are never smaller than this.
const MinReturnSize = 8

// ErrnoAccess reads and clears the calling thread's errno.
type ErrnoAccess interface {
	Errno() int32
	SetErrno(v int32)
}

// CallInterface is a prepared libffi call description. It is immutable
// after preparation and may be invoked from many goroutines.
type CallInterface struct {
	cif      ffi.Cif
	args     []NativeKind
	argTypes []*ffi.Type
	ret      NativeKind
	fixed    int
	variadic bool
}

// Prepare builds a call interface for a function with the given argument
// and return kinds.
func Prepare(args []NativeKind, ret NativeKind) (*CallInterface, error) {
	ci := newInterface(args, ret)
	status := ffi.PrepCif(&ci.cif, ffi.DefaultAbi, uint32(len(args)), ci.ret.typ, ci.argTypes...)
	if status != ffi.OK {
		return nil, prepError("ffi_prep_cif", status)
	}
	return ci, nil
}

// PrepareVariadic builds a call interface for a variadic function whose
// first fixed arguments are named. Variadic arguments follow C default
// promotions: callers pass f64 for floats and at least i32 for integers.
func PrepareVariadic(fixed int, args []NativeKind, ret NativeKind) (*CallInterface, error) {
	if fixed < 0 || fixed > len(args) {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "fixed argument count out of range")
	}
	ci := newInterface(args, ret)
	ci.fixed = fixed
	ci.variadic = true
	status := ffi.PrepCifVar(&ci.cif, ffi.DefaultAbi, uint32(fixed), uint32(len(args)), ci.ret.typ, ci.argTypes...)
	if status != ffi.OK {
		return nil, prepError("ffi_prep_cif_var", status)
	}
	return ci, nil
}

// PrepareSignature derives kinds from descriptors and prepares the call.
func PrepareSignature(params []descriptor.Type, ret descriptor.Type) (*CallInterface, error) {
	args, retKind, err := signatureKinds(params, ret, KindOf)
	if err != nil {
		return nil, err
	}
	return Prepare(args, retKind)
}

// PrepareVariadicSignature is PrepareSignature for variadic functions.
func PrepareVariadicSignature(fixed int, params []descriptor.Type, ret descriptor.Type) (*CallInterface, error) {
	args, retKind, err := signatureKinds(params, ret, KindOf)
	if err != nil {
		return nil, err
	}
	return PrepareVariadic(fixed, args, retKind)
}

// PrepareClosure prepares the interface a callback closure is built on.
func PrepareClosure(sig *descriptor.Callback) (*CallInterface, error) {
	args, retKind, err := signatureKinds(sig.Params, sig.Return, ClosureKindOf)
	if err != nil {
		return nil, err
	}
	return Prepare(args, retKind)
}

func signatureKinds(params []descriptor.Type, ret descriptor.Type, kindOf func(descriptor.Type) (NativeKind, error)) ([]NativeKind, NativeKind, error) {
	args := make([]NativeKind, len(params))
	for i, p := range params {
		if p == nil || p.Kind() == descriptor.KindVoid {
			return nil, NativeKind{}, errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
				Path("param[" + strconv.Itoa(i) + "]").
				Detail("void is not a parameter type").
				Build()
		}
		k, err := kindOf(p)
		if err != nil {
			return nil, NativeKind{}, err
		}
		args[i] = k
	}
	if ret == nil {
		ret = descriptor.Void
	}
	retKind, err := kindOf(ret)
	if err != nil {
		return nil, NativeKind{}, err
	}
	return args, retKind, nil
}

func newInterface(args []NativeKind, ret NativeKind) *CallInterface {
	if ret.typ == nil {
		ret = Void
	}
	ci := &CallInterface{
		args:     append([]NativeKind(nil), args...),
		argTypes: make([]*ffi.Type, len(args)),
		ret:      ret,
		fixed:    len(args),
	}
	for i, a := range args {
		ci.argTypes[i] = a.typ
	}
	return ci
}

func prepError(op string, status ffi.Status) error {
	return errors.New(errors.PhaseInvoke, errors.KindExternal).
		Value(int(status)).
		Detail("%s failed with status %d", op, int(status)).
		Build()
}

// Cif exposes the prepared libffi interface. Closures use its address as
// their identity.
func (ci *CallInterface) Cif() *ffi.Cif { return &ci.cif }

func (ci *CallInterface) NumArgs() int { return len(ci.args) }

// Args returns the argument kinds.
func (ci *CallInterface) Args() []NativeKind { return ci.args }

func (ci *CallInterface) Return() NativeKind { return ci.ret }

// Variadic reports whether the interface was prepared for a variadic call
// and how many arguments are fixed.
func (ci *CallInterface) Variadic() (bool, int) { return ci.variadic, ci.fixed }

// ReturnSize is the return buffer size a caller must provide.
func (ci *CallInterface) ReturnSize() uintptr {
	return max(ci.ret.Size(), MinReturnSize)
}

// Invoke calls fn. Each entry of args is the address of that argument's
// value; ret is the address of a buffer of at least ReturnSize bytes, or 0
// for void functions.
func (ci *CallInterface) Invoke(fn uintptr, args []uintptr, ret uintptr) error {
	if fn == 0 {
		return errors.NilPointer(errors.PhaseInvoke, nil, "function")
	}
	if len(args) != len(ci.args) {
		return errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Detail("argument count mismatch: expected %d, got %d", len(ci.args), len(args)).
			Build()
	}
	if ret == 0 && !ci.ret.IsVoid() {
		return errors.NilPointer(errors.PhaseInvoke, nil, "return buffer")
	}
	values := make([]unsafe.Pointer, len(args))
	for i, a := range args {
		if a == 0 {
			return errors.NilPointer(errors.PhaseInvoke, []string{"arg[" + strconv.Itoa(i) + "]"}, ci.args[i].name)
		}
		values[i] = ptr(a)
	}
	ffi.Call(&ci.cif, fn, ptr(ret), values...)
	runtime.KeepAlive(ci)
	return nil
}

// InvokeErrno is Invoke with errno cleared before and captured right after
// the call, on the same OS thread.
func (ci *CallInterface) InvokeErrno(fn uintptr, args []uintptr, ret uintptr, access ErrnoAccess) (int32, error) {
	if access == nil {
		return 0, errors.InvalidInput(errors.PhaseInvoke, "errno capture needs an errno accessor")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	access.SetErrno(0)
	if err := ci.Invoke(fn, args, ret); err != nil {
		return 0, err
	}
	return access.Errno(), nil
}

func ptr(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}
