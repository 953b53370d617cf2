package native

import (
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/wippyai/ffi-runtime/errors"
)

// mallocAlign is the alignment every libc malloc guarantees on 64-bit targets.
const mallocAlign = 16

func libcCandidates() []string {
	switch runtime.GOOS {
	case "darwin", "ios":
		return []string{"/usr/lib/libSystem.B.dylib"}
	case "freebsd":
		return []string{"libc.so.7"}
	case "netbsd", "openbsd":
		return []string{"libc.so"}
	default:
		return []string{"libc.so.6", "libc.so", "libc.musl-x86_64.so.1", "libc.musl-aarch64.so.1"}
	}
}

func errnoSymbol() string {
	switch runtime.GOOS {
	case "linux", "android":
		return "__errno_location"
	case "netbsd", "openbsd":
		return "__errno"
	default:
		return "__error"
	}
}

// Libc binds the C allocator and errno helpers of the system C library.
// It implements ffiruntime.Allocator; blocks it returns are zeroed.
type Libc struct {
	lib          *Library
	calloc       func(n, size uintptr) uintptr
	alignedAlloc func(align, size uintptr) uintptr
	free         func(p uintptr)
	errnoLoc     func() uintptr
	strerror     func(errnum int32) uintptr
}

var (
	libcOnce   sync.Once
	libcShared *Libc
	libcErr    error
)

// SystemLibc returns the process-wide libc binding, opening it on first use.
func SystemLibc() (*Libc, error) {
	libcOnce.Do(func() {
		libcShared, libcErr = OpenLibc()
	})
	return libcShared, libcErr
}

// OpenLibc opens the C library and resolves the functions Libc needs.
func OpenLibc() (*Libc, error) {
	var (
		lib     *Library
		openErr error
	)
	for _, path := range libcCandidates() {
		lib, openErr = Open("libc", path)
		if openErr == nil {
			break
		}
	}
	if lib == nil {
		return nil, openErr
	}

	l := &Libc{lib: lib}
	bind := func(fptr any, name string) error {
		addr, err := lib.Symbol(name)
		if err != nil {
			return err
		}
		purego.RegisterFunc(fptr, addr)
		return nil
	}
	for _, b := range []struct {
		fptr any
		name string
	}{
		{&l.calloc, "calloc"},
		{&l.free, "free"},
		{&l.errnoLoc, errnoSymbol()},
		{&l.strerror, "strerror"},
	} {
		if err := bind(b.fptr, b.name); err != nil {
			_ = lib.Close()
			return nil, err
		}
	}
	// aligned_alloc is optional; over-aligned requests fail without it.
	_ = bind(&l.alignedAlloc, "aligned_alloc")
	return l, nil
}

// Library exposes the underlying libc handle for symbol lookups.
func (l *Libc) Library() *Library {
	return l.lib
}

func (l *Libc) Alloc(size, align uintptr) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	var p uintptr
	if align <= mallocAlign {
		p = l.calloc(1, size)
	} else {
		if l.alignedAlloc == nil {
			return 0, errors.AllocationFailed(errors.PhaseRuntime, size, align)
		}
		rounded := (size + align - 1) / align * align
		p = l.alignedAlloc(align, rounded)
		if p != 0 {
			clear(unsafeBytes(p, rounded))
		}
	}
	if p == 0 {
		return 0, errors.AllocationFailed(errors.PhaseRuntime, size, align)
	}
	return p, nil
}

func (l *Libc) Free(p uintptr) {
	if p != 0 {
		l.free(p)
	}
}

// Errno reads the calling thread's errno. Only meaningful while the
// goroutine is locked to the thread that made the native call.
func (l *Libc) Errno() int32 {
	return *(*int32)(ptr(l.errnoLoc()))
}

// SetErrno overwrites the calling thread's errno.
func (l *Libc) SetErrno(v int32) {
	*(*int32)(ptr(l.errnoLoc())) = v
}

// Strerror returns the system message for errnum.
func (l *Libc) Strerror(errnum int32) string {
	p := l.strerror(errnum)
	if p == 0 {
		return ""
	}
	n, err := Memory{}.Strlen(p, 4096)
	if err != nil {
		return ""
	}
	return string(unsafeBytes(p, n))
}

func unsafeBytes(addr, n uintptr) []byte {
	b, _ := Memory{}.View(addr, n)
	return b
}
