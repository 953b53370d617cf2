package runtime

import (
	"sync"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/native"
	"github.com/wippyai/ffi-runtime/resource"
)

// Library is a shared object opened by a Runtime. Symbol addresses are
// cached for the library's lifetime.
type Library struct {
	rt       *Runtime
	lib      *native.Library
	symbols  sync.Map
	handle   resource.Handle
	closeErr error
	once     sync.Once
}

func (l *Library) Name() string { return l.lib.Name }

func (l *Library) Path() string { return l.lib.Path }

// Handle is the library's entry in the runtime resource table.
func (l *Library) Handle() resource.Handle { return l.handle }

// Symbol resolves name, consulting the cache first.
func (l *Library) Symbol(name string) (ffiruntime.Pointer, error) {
	if addr, ok := l.symbols.Load(name); ok {
		return addr.(ffiruntime.Pointer), nil
	}
	addr, err := l.lib.Symbol(name)
	if err != nil {
		return 0, err
	}
	p := ffiruntime.Pointer(addr)
	l.symbols.Store(name, p)
	return p, nil
}

// Drop closes the library when the resource table lets go of it.
func (l *Library) Drop() {
	_ = l.close()
}

func (l *Library) close() error {
	l.once.Do(func() {
		l.symbols.Clear()
		l.closeErr = l.lib.Close()
		if l.closeErr != nil {
			l.rt.logger.Warn("library close failed", zap.String("library", l.lib.Name), zap.Error(l.closeErr))
		} else {
			l.rt.logger.Debug("library closed", zap.String("library", l.lib.Name))
		}
	})
	return l.closeErr
}

func (l *Library) err() error {
	return l.closeErr
}
