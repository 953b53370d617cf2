package invoke

import (
	stderrors "errors"
	"testing"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/native"
	"github.com/wippyai/ffi-runtime/transcoder"
)

type harness struct {
	libc *native.Libc
	enc  *transcoder.Encoder
	dec  *transcoder.Decoder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	libc, err := native.SystemLibc()
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	mem := native.Memory{}
	h := &harness{
		libc: libc,
		enc:  transcoder.NewEncoder(mem, libc),
		dec:  transcoder.NewDecoder(mem),
	}
	t.Cleanup(func() { h.enc.Allocations().FreeAll(libc) })
	return h
}

func (h *harness) symbol(t *testing.T, name string) uintptr {
	t.Helper()
	fn, err := h.libc.Library().Symbol(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return fn
}

// call encodes args, invokes fn and decodes the result.
func (h *harness) call(t *testing.T, fn uintptr, params []descriptor.Type, ret descriptor.Type, values ...any) any {
	t.Helper()
	ci, err := PrepareSignature(params, ret)
	if err != nil {
		t.Fatalf("PrepareSignature: %v", err)
	}
	args := make([]uintptr, len(values))
	for i, v := range values {
		slot, err := h.enc.EncodeArg(params[i], v)
		if err != nil {
			t.Fatalf("EncodeArg(%d): %v", i, err)
		}
		args[i] = slot.Addr
	}
	buf, err := h.libc.Alloc(ci.ReturnSize(), 16)
	if err != nil {
		t.Fatal(err)
	}
	defer h.libc.Free(buf)
	if err := ci.Invoke(fn, args, buf); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	out, err := h.dec.DecodeArg(ret, transcoder.Borrow(buf, ci.ReturnSize()))
	if err != nil {
		t.Fatalf("DecodeArg: %v", err)
	}
	return out
}

func TestInvokeScalars(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		symbol string
		params []descriptor.Type
		ret    descriptor.Type
		args   []any
		want   any
	}{
		{"abs", "abs", []descriptor.Type{descriptor.I32}, descriptor.I32, []any{-42}, int32(42)},
		{"labs", "labs", []descriptor.Type{descriptor.I64}, descriptor.I64, []any{int64(-1) << 40}, int64(1) << 40},
		{"strlen", "strlen", []descriptor.Type{descriptor.CString}, descriptor.U64, []any{"hello, world"}, uint64(12)},
		{"strtod", "strtod", []descriptor.Type{descriptor.CString, descriptor.Pointer}, descriptor.F64, []any{"-2.5", nil}, -2.5},
		{"toupper", "toupper", []descriptor.Type{descriptor.I32}, descriptor.I32, []any{'a'}, int32('A')},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := h.symbol(t, tt.symbol)
			got := h.call(t, fn, tt.params, tt.ret, tt.args...)
			if got != tt.want {
				t.Errorf("%s = %v (%T), want %v (%T)", tt.symbol, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestInvokeStructReturn(t *testing.T) {
	h := newHarness(t)
	fn := h.symbol(t, "div")

	divT := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "quot", Type: descriptor.I32},
		descriptor.Field{Name: "rem", Type: descriptor.I32},
	)
	got := h.call(t, fn, []descriptor.Type{descriptor.I32, descriptor.I32}, divT, 17, 5)

	m, ok := got.(*orderedmap.OrderedMap[string, any])
	if !ok {
		t.Fatalf("div returned %T", got)
	}
	if q, _ := m.Get("quot"); q != int32(3) {
		t.Errorf("quot = %v, want 3", q)
	}
	if r, _ := m.Get("rem"); r != int32(2) {
		t.Errorf("rem = %v, want 2", r)
	}
}

func TestInvokeBuffer(t *testing.T) {
	h := newHarness(t)
	fn := h.symbol(t, "memset")

	buf := descriptor.Pointer
	block, err := h.libc.Alloc(8, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h.libc.Free(block)

	h.call(t, fn, []descriptor.Type{buf, descriptor.I32, descriptor.U64}, descriptor.Pointer,
		uintptr(block), 0x7f, uint64(8))

	arr, _ := descriptor.NewArray(descriptor.U8, 8, descriptor.Inline)
	got, err := h.dec.Decode(arr, transcoder.Borrow(block, 8))
	if err != nil {
		t.Fatal(err)
	}
	b := got.([]byte)
	for i, c := range b {
		if c != 0x7f {
			t.Fatalf("byte %d = %#x, want 0x7f", i, c)
		}
	}
}

func TestInvokeVariadic(t *testing.T) {
	h := newHarness(t)
	fn := h.symbol(t, "snprintf")

	ci, err := PrepareVariadic(3, []NativeKind{Pointer, Uint64, Pointer, Sint32, Pointer}, Sint32)
	if err != nil {
		t.Fatalf("PrepareVariadic: %v", err)
	}
	if v, fixed := ci.Variadic(); !v || fixed != 3 {
		t.Errorf("Variadic() = %v, %d", v, fixed)
	}

	out, err := h.libc.Alloc(32, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h.libc.Free(out)

	values := []struct {
		t descriptor.Type
		v any
	}{
		{descriptor.Pointer, uintptr(out)},
		{descriptor.U64, uint64(32)},
		{descriptor.CString, "%d-%s"},
		{descriptor.I32, 42},
		{descriptor.CString, "ok"},
	}
	args := make([]uintptr, len(values))
	for i, v := range values {
		slot, err := h.enc.EncodeArg(v.t, v.v)
		if err != nil {
			t.Fatal(err)
		}
		args[i] = slot.Addr
	}
	ret, err := h.libc.Alloc(ci.ReturnSize(), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer h.libc.Free(ret)

	if err := ci.Invoke(fn, args, ret); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	s, err := h.dec.DecodeArg(descriptor.CString, transcoder.Slot(out))
	if err != nil {
		t.Fatal(err)
	}
	if s != "42-ok" {
		t.Errorf("snprintf wrote %q, want %q", s, "42-ok")
	}
}

func TestInvokeErrno(t *testing.T) {
	h := newHarness(t)
	fn := h.symbol(t, "close")

	ci, err := Prepare([]NativeKind{Sint32}, Sint32)
	if err != nil {
		t.Fatal(err)
	}
	slot, err := h.enc.EncodeArg(descriptor.I32, -1)
	if err != nil {
		t.Fatal(err)
	}
	ret, err := h.libc.Alloc(ci.ReturnSize(), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer h.libc.Free(ret)

	errno, err := ci.InvokeErrno(fn, []uintptr{slot.Addr}, ret, h.libc)
	if err != nil {
		t.Fatalf("InvokeErrno: %v", err)
	}
	if errno != 9 {
		t.Errorf("errno = %d, want EBADF (9)", errno)
	}
	rc, _ := native.Memory{}.ReadU32(ret)
	if int32(rc) != -1 {
		t.Errorf("close(-1) = %d, want -1", int32(rc))
	}
}

func TestInvokeValidation(t *testing.T) {
	ci, err := Prepare([]NativeKind{Sint32, Sint32}, Sint32)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   uintptr
		args []uintptr
		ret  uintptr
		kind errors.Kind
	}{
		{"null function", 0, []uintptr{1, 1}, 1, errors.KindNilPointer},
		{"too few args", 1, []uintptr{1}, 1, errors.KindInvalidInput},
		{"too many args", 1, []uintptr{1, 1, 1}, 1, errors.KindInvalidInput},
		{"null arg", 1, []uintptr{1, 0}, 1, errors.KindNilPointer},
		{"null return", 1, []uintptr{1, 1}, 0, errors.KindNilPointer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ci.Invoke(tt.fn, tt.args, tt.ret)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", e.Kind, tt.kind)
			}
		})
	}

	if _, err := PrepareVariadic(3, []NativeKind{Pointer}, Void); err == nil {
		t.Error("PrepareVariadic accepted more fixed args than args")
	}
	if _, err := ci.InvokeErrno(1, nil, 1, nil); err == nil {
		t.Error("InvokeErrno accepted a nil errno accessor")
	}
}

func TestKindOf(t *testing.T) {
	inner := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "x", Type: descriptor.F32},
		descriptor.Field{Name: "y", Type: descriptor.F32},
	)
	arr, _ := descriptor.NewArray(descriptor.U8, 3, descriptor.Inline)
	pts, _ := descriptor.NewStructArray(inner, 2, descriptor.Inline)
	outer := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "tag", Type: arr},
		descriptor.Field{Name: "pts", Type: pts},
		descriptor.Field{Name: "name", Type: descriptor.CString},
	)

	k, err := KindOf(outer)
	if err != nil {
		t.Fatalf("KindOf: %v", err)
	}
	// 3 u8 elements, 2 nested structs, 1 pointer.
	var n int
	for p := k.Type().Elements; *p != nil; p = nextElem(p) {
		n++
	}
	if n != 6 {
		t.Errorf("struct has %d elements, want 6", n)
	}

	primitives := []struct {
		t    descriptor.Type
		want NativeKind
	}{
		{descriptor.Bool, Uint8},
		{descriptor.I16, Sint16},
		{descriptor.CString, Pointer},
		{descriptor.Void, Void},
		{arr, Pointer},
		{descriptor.MustStruct(descriptor.Indirect, descriptor.Field{Name: "a", Type: descriptor.I32}), Pointer},
	}
	for _, tt := range primitives {
		t.Run(tt.t.String(), func(t *testing.T) {
			got, err := KindOf(tt.t)
			if err != nil {
				t.Fatal(err)
			}
			if got.Type() != tt.want.Type() {
				t.Errorf("KindOf(%s) = %s, want %s", tt.t, got, tt.want)
			}
		})
	}

	if _, err := KindOf(descriptor.MustStruct(descriptor.Inline)); err == nil {
		t.Error("empty inline struct accepted")
	}
	if _, err := KindOf(nil); err == nil {
		t.Error("nil descriptor accepted")
	}
}

func TestPrepareStructLayout(t *testing.T) {
	s := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "a", Type: descriptor.U8},
		descriptor.Field{Name: "b", Type: descriptor.I64},
	)
	k, err := KindOf(s)
	if err != nil {
		t.Fatal(err)
	}
	ci, err := Prepare([]NativeKind{k}, k)
	if err != nil {
		t.Fatal(err)
	}
	// libffi lays the struct out during preparation.
	if k.Size() != 16 {
		t.Errorf("struct size = %d, want 16", k.Size())
	}
	if ci.ReturnSize() != 16 {
		t.Errorf("ReturnSize = %d, want 16", ci.ReturnSize())
	}
}

func TestPrepareSignatureRejectsVoidParam(t *testing.T) {
	_, err := PrepareSignature([]descriptor.Type{descriptor.I32, descriptor.Void}, descriptor.I32)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if len(e.Path) != 1 || e.Path[0] != "param[1]" {
		t.Errorf("path = %v", e.Path)
	}
}
