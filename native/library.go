package native

import (
	"sync"

	"github.com/ebitengine/purego"

	"github.com/wippyai/ffi-runtime/errors"
)

// Library is a shared object opened with dlopen.
type Library struct {
	Name   string
	Path   string
	handle uintptr
	mu     sync.Mutex
}

// Open loads path with RTLD_NOW|RTLD_GLOBAL. An empty path opens the
// main program.
func Open(name, path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Load("dlopen "+path, err)
	}
	return &Library{Name: name, Path: path, handle: handle}, nil
}

// Symbol resolves name to its address.
func (l *Library) Symbol(name string) (uintptr, error) {
	l.mu.Lock()
	handle := l.handle
	l.mu.Unlock()
	if handle == 0 {
		return 0, errors.Closed(errors.PhaseLoad, "library "+l.Name)
	}
	addr, err := purego.Dlsym(handle, name)
	if err != nil || addr == 0 {
		return 0, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Value(name).
			Cause(err).
			Detail("symbol %q not found in %s", name, l.Name).
			Build()
	}
	return addr, nil
}

// Handle returns the raw dlopen handle, 0 once closed.
func (l *Library) Handle() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}

func (l *Library) Close() error {
	l.mu.Lock()
	handle := l.handle
	l.handle = 0
	l.mu.Unlock()
	if handle == 0 {
		return nil
	}
	if err := purego.Dlclose(handle); err != nil {
		return errors.Load("dlclose "+l.Path, err)
	}
	return nil
}
