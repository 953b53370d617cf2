package runtime

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/config"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
	"github.com/wippyai/ffi-runtime/resource"
	"github.com/wippyai/ffi-runtime/transcoder"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	mem         transcoder.Memory
	alloc       transcoder.Allocator
	cfg         *config.Config
	queueSize   int
	concurrency int
	zeroCopy    bool
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMemory replaces direct process memory access, mostly for tests.
func WithMemory(m transcoder.Memory) Option {
	return func(o *options) { o.mem = m }
}

// WithAllocator backs marshalled values with alloc instead of the
// configured allocator. The runtime does not close it.
func WithAllocator(a transcoder.Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithConfig applies cfg and opens the libraries it lists.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithConcurrency bounds the number of calls CallAll runs at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithZeroCopyBytes decodes byte arrays as views of native memory.
func WithZeroCopyBytes() Option {
	return func(o *options) { o.zeroCopy = true }
}

// Runtime is the process-scoped bridge: it owns opened libraries, live
// trampolines, runtime-created pointers and the call interface cache.
type Runtime struct {
	logger      *zap.Logger
	mem         transcoder.Memory
	alloc       transcoder.Allocator
	libc        *native.Libc
	arena       *native.Arena
	layout      *transcoder.LayoutCalculator
	decoder     *transcoder.Decoder
	owned       *transcoder.Decoder
	table       *resource.UnifiedTable
	factory     *callback.Factory
	cifs        sync.Map
	libs        map[string]*Library
	funcs       map[string]*Func
	scopes      map[*Scope]struct{}
	concurrency int
	errno       bool
	mu          sync.RWMutex
	closed      bool
}

// New creates a runtime. Without WithConfig it uses config.Default.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg := config.Default()
	if o.cfg != nil {
		if err := o.cfg.Validate(); err != nil {
			return nil, err
		}
		cfg = o.cfg
	}

	r := &Runtime{
		logger:      o.logger,
		mem:         o.mem,
		alloc:       o.alloc,
		layout:      transcoder.NewLayoutCalculator(),
		table:       resource.NewTable(),
		libs:        make(map[string]*Library),
		funcs:       make(map[string]*Func),
		scopes:      make(map[*Scope]struct{}),
		concurrency: cfg.Calls.Concurrency,
		errno:       cfg.Calls.CaptureErrno,
	}
	if r.logger == nil {
		r.logger = Logger()
	}
	if r.mem == nil {
		r.mem = native.Memory{}
	}
	if o.concurrency > 0 {
		r.concurrency = o.concurrency
	}
	r.table.Subscribe(resourceLog{logger: r.logger})

	libc, err := native.SystemLibc()
	if err != nil {
		if o.alloc == nil && cfg.Runtime.Allocator == "libc" {
			return nil, err
		}
		r.logger.Warn("libc unavailable, errno capture and foreign frees disabled", zap.Error(err))
	}
	r.libc = libc

	if r.alloc == nil {
		switch cfg.Runtime.Allocator {
		case "arena":
			arena, err := native.NewArena(cfg.Runtime.ArenaSize)
			if err != nil {
				return nil, err
			}
			r.arena = arena
			r.alloc = arena
		default:
			r.alloc = libc
		}
	}

	decOpts := []transcoder.DecoderOption{transcoder.WithDecoderLayout(r.layout)}
	if o.zeroCopy || cfg.Runtime.ZeroCopyBytes {
		decOpts = append(decOpts, transcoder.WithZeroCopyBytes())
	}
	r.decoder = transcoder.NewDecoder(r.mem, decOpts...)
	// Results whose memory is freed after decoding must not alias it.
	r.owned = transcoder.NewDecoder(r.mem, append(decOpts, transcoder.CallbackSafe())...)

	queue := cfg.Callbacks.QueueSize
	if o.queueSize > 0 {
		queue = o.queueSize
	}
	r.factory = callback.NewFactory(r.mem, r.alloc,
		callback.WithTable(r.table),
		callback.WithQueueSize(queue),
		callback.WithLayout(r.layout),
		callback.WithContext(ctx),
	)

	for _, lc := range cfg.Libraries {
		if err := r.openConfigured(lc); err != nil {
			_ = r.Close(ctx)
			return nil, err
		}
	}

	r.logger.Debug("runtime created",
		zap.Int("libraries", len(cfg.Libraries)),
		zap.Int("queue_size", queue),
		zap.Int("concurrency", r.concurrency),
		zap.Bool("arena", r.arena != nil),
	)
	return r, nil
}

// NewFromConfig loads a TOML configuration file and creates a runtime
// from it.
func NewFromConfig(ctx context.Context, path string, opts ...Option) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, append([]Option{WithConfig(cfg)}, opts...)...)
}

// Close tears down scopes, trampolines, runtime-created pointers and
// libraries, in that order. Calls in flight must have returned.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	scopes := make([]*Scope, 0, len(r.scopes))
	for s := range r.scopes {
		scopes = append(scopes, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range scopes {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.factory.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.table.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	r.mu.Lock()
	r.libs = make(map[string]*Library)
	r.funcs = make(map[string]*Func)
	r.mu.Unlock()

	if r.arena != nil {
		if err := r.arena.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.logger.Debug("runtime closed")
	return firstErr
}

// Allocator returns the allocator backing marshalled values.
func (r *Runtime) Allocator() ffiruntime.Allocator { return r.alloc }

func (r *Runtime) Memory() ffiruntime.Memory { return r.mem }

// Layout returns the shared layout cache.
func (r *Runtime) Layout() *transcoder.LayoutCalculator { return r.layout }

// Callbacks returns the trampoline factory.
func (r *Runtime) Callbacks() *callback.Factory { return r.factory }

// Resources returns the handle table shared by libraries, trampolines and
// pointers.
func (r *Runtime) Resources() *resource.UnifiedTable { return r.table }

// Open loads the shared library at path under name. An empty path opens
// the running process.
func (r *Runtime) Open(name, path string) (*Library, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "library name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Closed(errors.PhaseLoad, "runtime")
	}
	if _, ok := r.libs[name]; ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Value(name).
			Detail("library %q is already open", name).
			Build()
	}

	lib, err := native.Open(name, path)
	if err != nil {
		return nil, err
	}
	l := &Library{rt: r, lib: lib}
	// Two names may dlopen the same object, so libraries are not indexed
	// by handle.
	h, err := r.table.InsertErr(resource.KindLibrary, 0, l)
	if err != nil {
		_ = lib.Close()
		return nil, err
	}
	l.handle = h
	r.libs[name] = l
	r.logger.Debug("library opened", zap.String("library", name), zap.String("path", path))
	return l, nil
}

// CloseLibrary closes name and forgets every function defined on it.
func (r *Runtime) CloseLibrary(name string) error {
	r.mu.Lock()
	l, ok := r.libs[name]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound(errors.PhaseLoad, "library", name)
	}
	delete(r.libs, name)
	for key, fn := range r.funcs {
		if fn.lib == l {
			delete(r.funcs, key)
		}
	}
	r.mu.Unlock()

	if _, ok := r.table.Remove(l.handle); !ok {
		return l.close()
	}
	return l.err()
}

// Library returns the library opened under name.
func (r *Runtime) Library(name string) (*Library, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.libs[name]
	return l, ok
}

// Libraries lists open library names in sorted order.
func (r *Runtime) Libraries() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.libs))
	for name := range r.libs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Runtime) checkOpen(phase errors.Phase) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.Closed(phase, "runtime")
	}
	return nil
}

func (r *Runtime) openConfigured(lc config.LibraryConfig) error {
	if _, err := r.Open(lc.Name, lc.Path); err != nil {
		return err
	}
	if len(lc.Functions) == 0 {
		return nil
	}
	sigs := make(map[string]Signature, len(lc.Functions))
	for name, fc := range lc.Functions {
		sig, err := SignatureFromConfig(fc)
		if err != nil {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path("libraries", lc.Name, "functions", name).
				Cause(err).
				Detail("invalid signature").
				Build()
		}
		sigs[name] = sig
	}
	_, err := r.Define(lc.Name, sigs)
	return err
}
