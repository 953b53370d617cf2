package runtime

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/ffi-runtime/config"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
)

func libcPath(t *testing.T) string {
	t.Helper()
	libc, err := native.SystemLibc()
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	return libc.Library().Path
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	path := libcPath(t)
	ctx := context.Background()
	rt, err := New(ctx, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := rt.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if _, err := rt.Open("libc", path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return rt
}

func kindOf(err error) errors.Kind {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func sig(ret descriptor.Type, params ...descriptor.Type) Signature {
	return Signature{Params: params, Return: ret}
}

func TestCallScalars(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fn   string
		sig  Signature
		args []any
		want any
	}{
		{"abs", "abs", sig(descriptor.I32, descriptor.I32), []any{int32(-42)}, int32(42)},
		{"abs from int", "abs", sig(descriptor.I32, descriptor.I32), []any{-7}, int32(7)},
		{"labs", "labs", sig(descriptor.I64, descriptor.I64), []any{int64(-1) << 40}, int64(1) << 40},
		{"strlen", "strlen", sig(descriptor.U64, descriptor.CString), []any{"hello"}, uint64(5)},
		{"strtod", "strtod", sig(descriptor.F64, descriptor.CString, descriptor.Pointer), []any{"-2.5", nil}, -2.5},
		{"toupper", "toupper", sig(descriptor.I32, descriptor.I32), []any{int32('a')}, int32('A')},
		{"atoi", "atoi", sig(descriptor.I32, descriptor.CString), []any{"1234"}, int32(1234)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rt.Call(ctx, CallRequest{Library: "libc", Func: tt.fn, Signature: tt.sig, Args: tt.args})
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if res.Value != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", res.Value, res.Value, tt.want, tt.want)
			}
		})
	}
}

func TestCallByAddress(t *testing.T) {
	rt := newRuntime(t)
	lib, _ := rt.Library("libc")
	addr, err := lib.Symbol("abs")
	if err != nil {
		t.Fatal(err)
	}
	res, err := rt.Call(context.Background(), CallRequest{
		Addr:      addr,
		Signature: sig(descriptor.I32, descriptor.I32),
		Args:      []any{int32(-3)},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value != int32(3) {
		t.Errorf("got %v", res.Value)
	}
}

func TestCallStructResult(t *testing.T) {
	rt := newRuntime(t)
	divT := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "quot", Type: descriptor.I32},
		descriptor.Field{Name: "rem", Type: descriptor.I32},
	)
	res, err := rt.Call(context.Background(), CallRequest{
		Library:   "libc",
		Func:      "div",
		Signature: sig(divT, descriptor.I32, descriptor.I32),
		Args:      []any{int32(17), int32(5)},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	m, ok := res.Value.(*orderedmap.OrderedMap[string, any])
	if !ok {
		t.Fatalf("got %T", res.Value)
	}
	if q, _ := m.Get("quot"); q != int32(3) {
		t.Errorf("quot = %v", q)
	}
	if r, _ := m.Get("rem"); r != int32(2) {
		t.Errorf("rem = %v", r)
	}
}

func TestCallVariadic(t *testing.T) {
	rt := newRuntime(t)
	res, err := rt.Call(context.Background(), CallRequest{
		Library: "libc",
		Func:    "snprintf",
		Signature: Signature{
			Params:   []descriptor.Type{descriptor.Pointer, descriptor.U64, descriptor.CString, descriptor.I32},
			Return:   descriptor.I32,
			Variadic: true,
			Fixed:    3,
		},
		Args: []any{nil, uint64(0), "%d", int32(12345)},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value != int32(5) {
		t.Errorf("snprintf length = %v, want 5", res.Value)
	}
}

func TestCallErrno(t *testing.T) {
	rt := newRuntime(t)
	res, err := rt.Call(context.Background(), CallRequest{
		Library:     "libc",
		Func:        "close",
		Signature:   sig(descriptor.I32, descriptor.I32),
		Args:        []any{int32(-1)},
		CallOptions: CallOptions{Errno: true},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value != int32(-1) {
		t.Errorf("close(-1) = %v", res.Value)
	}
	if res.Errno != 9 {
		t.Errorf("errno = %d, want EBADF", res.Errno)
	}
	if res.ErrnoMessage == "" {
		t.Error("missing errno message")
	}
}

func TestCallFreeResultMemory(t *testing.T) {
	rt := newRuntime(t)
	res, err := rt.Call(context.Background(), CallRequest{
		Library:     "libc",
		Func:        "strdup",
		Signature:   sig(descriptor.CString, descriptor.CString),
		Args:        []any{"copied"},
		CallOptions: CallOptions{FreeResultMemory: true},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value != "copied" {
		t.Errorf("got %v", res.Value)
	}
}

func TestCallFreeResultMemoryZeroCopy(t *testing.T) {
	rt := newRuntime(t, WithZeroCopyBytes())
	ctx := context.Background()
	const text = "abcdefghijklmnopqrstuvw"
	bytesT, err := descriptor.NewArray(descriptor.U8, len(text)+1, descriptor.Indirect)
	if err != nil {
		t.Fatal(err)
	}

	res, err := rt.Call(ctx, CallRequest{
		Library:     "libc",
		Func:        "strdup",
		Signature:   sig(bytesT, descriptor.CString),
		Args:        []any{text},
		CallOptions: CallOptions{FreeResultMemory: true},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got, ok := res.Value.([]byte)
	if !ok {
		t.Fatalf("got %T, want []byte", res.Value)
	}

	// Same-sized allocations land in the block that was just freed.
	for i := 0; i < 8; i++ {
		if _, err := rt.Call(ctx, CallRequest{
			Library:     "libc",
			Func:        "strdup",
			Signature:   sig(descriptor.CString, descriptor.CString),
			Args:        []any{"ZYXWVUTSRQPONMLKJIHGFED"},
			CallOptions: CallOptions{FreeResultMemory: true},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if string(got) != text+"\x00" {
		t.Errorf("result changed after its block was freed: %q", got)
	}
}

func TestCallErrors(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	canceled, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		req  CallRequest
		kind errors.Kind
	}{
		{
			name: "unknown library",
			ctx:  ctx,
			req:  CallRequest{Library: "nope", Func: "abs", Signature: sig(descriptor.I32, descriptor.I32), Args: []any{1}},
			kind: errors.KindNotFound,
		},
		{
			name: "unknown symbol",
			ctx:  ctx,
			req:  CallRequest{Library: "libc", Func: "no_such_function_here", Signature: sig(descriptor.Void)},
			kind: errors.KindNotFound,
		},
		{
			name: "no function",
			ctx:  ctx,
			req:  CallRequest{Library: "libc", Signature: sig(descriptor.Void)},
			kind: errors.KindInvalidInput,
		},
		{
			name: "argument count",
			ctx:  ctx,
			req:  CallRequest{Library: "libc", Func: "abs", Signature: sig(descriptor.I32, descriptor.I32)},
			kind: errors.KindInvalidInput,
		},
		{
			name: "argument type",
			ctx:  ctx,
			req:  CallRequest{Library: "libc", Func: "abs", Signature: sig(descriptor.I32, descriptor.I32), Args: []any{"x"}},
			kind: errors.KindTypeMismatch,
		},
		{
			name: "void parameter",
			ctx:  ctx,
			req:  CallRequest{Library: "libc", Func: "abs", Signature: sig(descriptor.I32, descriptor.Void), Args: []any{nil}},
			kind: errors.KindInvalidInput,
		},
		{
			name: "canceled",
			ctx:  canceled,
			req:  CallRequest{Library: "libc", Func: "abs", Signature: sig(descriptor.I32, descriptor.I32), Args: []any{1}},
			kind: errors.KindClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Call(tt.ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := kindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestArgumentErrorPath(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.Call(context.Background(), CallRequest{
		Library:   "libc",
		Func:      "strlen",
		Signature: sig(descriptor.U64, descriptor.CString),
		Args:      []any{42},
	})
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("got %v", err)
	}
	if len(e.Path) == 0 || e.Path[0] != "arg[0]" {
		t.Errorf("path = %v", e.Path)
	}
}

func TestDefine(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	funcs, err := rt.Define("libc", map[string]Signature{
		"abs":    sig(descriptor.I32, descriptor.I32),
		"strlen": sig(descriptor.U64, descriptor.CString),
	})
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	v, err := funcs["strlen"].Call(ctx, "four")
	if err != nil || v != uint64(4) {
		t.Errorf("strlen = %v, %v", v, err)
	}
	if fn, ok := rt.Func("libc", "abs"); !ok || fn.Name() != "abs" || fn.Library() != "libc" {
		t.Error("abs not registered")
	}

	_, err = rt.Define("libc", map[string]Signature{
		"abs":         sig(descriptor.I32, descriptor.I32),
		"missing_one": sig(descriptor.Void),
		"missing_two": sig(descriptor.Void),
	})
	var missing *errors.MissingSymbolsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("got %v, want MissingSymbolsError", err)
	}
	if len(missing.Symbols) != 2 {
		t.Fatalf("missing = %+v", missing.Symbols)
	}
	for _, s := range missing.Symbols {
		if s.Library != "libc" {
			t.Errorf("library = %q", s.Library)
		}
	}

	if _, err := rt.Define("nope", nil); kindOf(err) != errors.KindNotFound {
		t.Errorf("unknown library: %v", err)
	}
}

func TestCallAll(t *testing.T) {
	rt := newRuntime(t, WithConcurrency(4))
	reqs := make([]CallRequest, 32)
	for i := range reqs {
		reqs[i] = CallRequest{
			Library:   "libc",
			Func:      "abs",
			Signature: sig(descriptor.I32, descriptor.I32),
			Args:      []any{int32(-i)},
		}
	}
	results, err := rt.CallAll(context.Background(), reqs)
	if err != nil {
		t.Fatalf("CallAll: %v", err)
	}
	for i, res := range results {
		if res.Value != int32(i) {
			t.Errorf("results[%d] = %v", i, res.Value)
		}
	}

	reqs[5].Args = []any{"bad"}
	if _, err := rt.CallAll(context.Background(), reqs); kindOf(err) != errors.KindTypeMismatch {
		t.Errorf("batch with a bad request: %v", err)
	}
}

func TestCallAsync(t *testing.T) {
	rt := newRuntime(t)
	ch := rt.CallAsync(context.Background(), CallRequest{
		Library:   "libc",
		Func:      "strlen",
		Signature: sig(descriptor.U64, descriptor.CString),
		Args:      []any{"async"},
	})
	out := <-ch
	if out.Err != nil {
		t.Fatal(out.Err)
	}
	if out.Value != uint64(5) {
		t.Errorf("got %v", out.Value)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed")
	}
}

func TestLibraries(t *testing.T) {
	rt := newRuntime(t)
	path := libcPath(t)

	if _, err := rt.Open("libc", path); kindOf(err) != errors.KindInvalidInput {
		t.Errorf("duplicate open: %v", err)
	}
	if _, err := rt.Open("c2", path); err != nil {
		t.Fatalf("second name for the same object: %v", err)
	}
	if got := rt.Libraries(); len(got) != 2 || got[0] != "c2" || got[1] != "libc" {
		t.Errorf("Libraries = %v", got)
	}
	if _, err := rt.Define("c2", map[string]Signature{"abs": sig(descriptor.I32, descriptor.I32)}); err != nil {
		t.Fatal(err)
	}
	if err := rt.CloseLibrary("c2"); err != nil {
		t.Fatalf("CloseLibrary: %v", err)
	}
	if _, ok := rt.Func("c2", "abs"); ok {
		t.Error("function survived its library")
	}
	if err := rt.CloseLibrary("c2"); kindOf(err) != errors.KindNotFound {
		t.Errorf("double close: %v", err)
	}
	// libc itself is still usable.
	if _, err := rt.Call(context.Background(), CallRequest{
		Library: "libc", Func: "abs", Signature: sig(descriptor.I32, descriptor.I32), Args: []any{1},
	}); err != nil {
		t.Error(err)
	}
}

func TestClosedRuntime(t *testing.T) {
	libcPath(t)
	ctx := context.Background()
	rt, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := rt.Open("libc", ""); kindOf(err) != errors.KindClosed {
		t.Errorf("Open after Close: %v", err)
	}
	if _, err := rt.Call(ctx, CallRequest{Addr: 1, Signature: sig(descriptor.Void)}); kindOf(err) != errors.KindClosed {
		t.Errorf("Call after Close: %v", err)
	}
}

func TestArenaAllocator(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.Allocator = "arena"
	cfg.Runtime.ArenaSize = 4096
	rt := newRuntime(t, WithConfig(cfg))
	arena, ok := rt.Allocator().(*native.Arena)
	if !ok {
		t.Fatalf("allocator = %T", rt.Allocator())
	}
	// Each call takes argument and return blocks; the arena only holds a
	// few hundred of them at once.
	for i := 0; i < 1000; i++ {
		res, err := rt.Call(context.Background(), CallRequest{
			Library: "libc", Func: "abs", Signature: sig(descriptor.I32, descriptor.I32), Args: []any{-1},
		})
		if err != nil {
			t.Fatalf("call #%d: %v", i, err)
		}
		if res.Value != int32(1) {
			t.Fatalf("call #%d: got %v", i, res.Value)
		}
	}
	if arena.Live() != 0 || arena.Used() != 0 {
		t.Errorf("arena holds %d blocks in %d bytes after the calls", arena.Live(), arena.Used())
	}

	// Transferred strings stay live until the caller frees them.
	res, err := rt.Call(context.Background(), CallRequest{
		Library: "libc", Func: "strlen", Signature: sig(descriptor.U64, descriptor.CString), Args: []any{"arena"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != uint64(5) {
		t.Errorf("got %v", res.Value)
	}
	if len(res.Transferred) != 1 || arena.Live() != 1 {
		t.Fatalf("transferred %d blocks, arena live %d", len(res.Transferred), arena.Live())
	}
	arena.Free(res.Transferred[0].Ptr)
	if arena.Used() != 0 {
		t.Errorf("Used = %d after freeing the transferred string", arena.Used())
	}
}

func TestNewFromConfig(t *testing.T) {
	path := libcPath(t)
	file := filepath.Join(t.TempDir(), "ffirun.toml")
	data := `
[calls]
concurrency = 2
capture_errno = true

[[libraries]]
name = "c"
path = "` + path + `"

[libraries.functions.abs]
params = ["i32"]
return = "i32"

[libraries.functions.snprintf]
params = ["pointer", "u64", "cstring", "f64"]
return = "i32"
fixed = 3
`
	if err := os.WriteFile(file, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	rt, err := NewFromConfig(ctx, file)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer rt.Close(ctx)

	abs, ok := rt.Func("c", "abs")
	if !ok {
		t.Fatal("abs not defined")
	}
	if v, err := abs.Call(ctx, int32(-9)); err != nil || v != int32(9) {
		t.Errorf("abs = %v, %v", v, err)
	}
	snprintf, ok := rt.Func("c", "snprintf")
	if !ok {
		t.Fatal("snprintf not defined")
	}
	if s := snprintf.Signature(); !s.Variadic || s.Fixed != 3 {
		t.Errorf("signature = %s", s)
	}
	if v, err := snprintf.Call(ctx, nil, uint64(0), "%.1f", 2.25); err != nil || v != int32(3) {
		t.Errorf("snprintf = %v, %v", v, err)
	}
}

func TestSignatureString(t *testing.T) {
	tests := []struct {
		sig  Signature
		want string
	}{
		{sig(descriptor.Void), "() void"},
		{sig(descriptor.I32, descriptor.I32, descriptor.CString), "(i32, string) i32"},
		{Signature{Params: []descriptor.Type{descriptor.CString, descriptor.I32}, Return: descriptor.I32, Variadic: true, Fixed: 1}, "(string, ... i32) i32"},
		{Signature{Params: []descriptor.Type{descriptor.CString}, Variadic: true, Fixed: 1}, "(string, ...) void"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.sig.String(); got != tt.want {
				t.Errorf("got %q", got)
			}
		})
	}
}
