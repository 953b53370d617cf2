package layout

import (
	"testing"
	"unsafe"

	"github.com/wippyai/ffi-runtime/descriptor"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

func TestCalculatePrimitives(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		typ   descriptor.Type
		name  string
		size  uintptr
		align uintptr
	}{
		{descriptor.Bool, "bool", 1, 1},
		{descriptor.U8, "u8", 1, 1},
		{descriptor.I16, "i16", 2, 2},
		{descriptor.I32, "i32", 4, 4},
		{descriptor.U32, "u32", 4, 4},
		{descriptor.F32, "f32", 4, 4},
		{descriptor.I64, "i64", 8, 8},
		{descriptor.U64, "u64", 8, 8},
		{descriptor.F64, "f64", 8, 8},
		{descriptor.Pointer, "pointer", ptrSize, ptrSize},
		{descriptor.CString, "string", ptrSize, ptrSize},
		{descriptor.WideCString, "wstring", ptrSize, ptrSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := c.Calculate(tc.typ)
			if err != nil {
				t.Fatal(err)
			}
			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.align {
				t.Errorf("align: got %d, want %d", info.Align, tc.align)
			}
		})
	}
}

func TestCalculateStruct(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name    string
		fields  []descriptor.Field
		size    uintptr
		align   uintptr
		offsets []uintptr
	}{
		{"empty", nil, 0, 1, nil},
		{"u8 then i64", []descriptor.Field{
			{Name: "a", Type: descriptor.U8},
			{Name: "b", Type: descriptor.I64},
		}, 16, 8, []uintptr{0, 8}},
		{"two i32", []descriptor.Field{
			{Name: "x", Type: descriptor.I32},
			{Name: "y", Type: descriptor.I32},
		}, 8, 4, []uintptr{0, 4}},
		{"trailing padding", []descriptor.Field{
			{Name: "a", Type: descriptor.I32},
			{Name: "b", Type: descriptor.U8},
		}, 8, 4, []uintptr{0, 4}},
		{"i16 u8 i16", []descriptor.Field{
			{Name: "a", Type: descriptor.I16},
			{Name: "b", Type: descriptor.U8},
			{Name: "c", Type: descriptor.I16},
		}, 6, 2, []uintptr{0, 2, 4}},
		{"string pointer", []descriptor.Field{
			{Name: "flag", Type: descriptor.Bool},
			{Name: "name", Type: descriptor.CString},
		}, 2 * ptrSize, ptrSize, []uintptr{0, ptrSize}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := descriptor.MustStruct(descriptor.Inline, tc.fields...)
			info, err := c.Calculate(st)
			if err != nil {
				t.Fatal(err)
			}
			if info.Size != tc.size || info.Align != tc.align {
				t.Errorf("got %d/%d, want %d/%d", info.Size, info.Align, tc.size, tc.align)
			}
			if len(info.Offsets) != len(tc.offsets) {
				t.Fatalf("offsets: got %v, want %v", info.Offsets, tc.offsets)
			}
			for i := range tc.offsets {
				if info.Offsets[i] != tc.offsets[i] {
					t.Errorf("offset %d: got %d, want %d", i, info.Offsets[i], tc.offsets[i])
				}
			}
		})
	}
}

func TestIndirectCompositesArePointers(t *testing.T) {
	c := NewCalculator()
	st := descriptor.MustStruct(descriptor.Indirect,
		descriptor.Field{Name: "a", Type: descriptor.I64},
		descriptor.Field{Name: "b", Type: descriptor.I64},
	)
	arr, _ := descriptor.NewArray(descriptor.F64, 10, descriptor.Indirect)
	items, _ := descriptor.NewStructArray(st, 3, descriptor.Indirect)

	for _, typ := range []descriptor.Type{st, arr, items} {
		info, err := c.Calculate(typ)
		if err != nil {
			t.Fatal(err)
		}
		if info.Size != ptrSize {
			t.Errorf("%s: size %d, want pointer", typ, info.Size)
		}
	}

	block, err := c.Block(st)
	if err != nil {
		t.Fatal(err)
	}
	if block.Size != 16 || block.Align != 8 {
		t.Errorf("indirect struct block = %d/%d, want 16/8", block.Size, block.Align)
	}
}

func TestCalculateInlineArrays(t *testing.T) {
	c := NewCalculator()
	arr, _ := descriptor.NewArray(descriptor.I16, 3, descriptor.Inline)
	outer := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "tag", Type: descriptor.U8},
		descriptor.Field{Name: "vals", Type: arr},
		descriptor.Field{Name: "n", Type: descriptor.I32},
	)
	info, err := c.Calculate(outer)
	if err != nil {
		t.Fatal(err)
	}
	// tag@0, vals@2 (6 bytes), n@8, size 12.
	want := []uintptr{0, 2, 8}
	for i, w := range want {
		if info.Offsets[i] != w {
			t.Errorf("offset %d: got %d, want %d", i, info.Offsets[i], w)
		}
	}
	if info.Size != 12 || info.Align != 4 {
		t.Errorf("got %d/%d, want 12/4", info.Size, info.Align)
	}
}

func TestCalculateStructArrays(t *testing.T) {
	c := NewCalculator()
	point := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "x", Type: descriptor.I32},
		descriptor.Field{Name: "y", Type: descriptor.I32},
	)
	boxed := descriptor.MustStruct(descriptor.Indirect,
		descriptor.Field{Name: "x", Type: descriptor.I32},
	)

	contiguous, _ := descriptor.NewStructArray(point, 4, descriptor.Inline)
	info, err := c.Calculate(contiguous)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 32 || info.Stride != 8 {
		t.Errorf("contiguous items: size %d stride %d, want 32/8", info.Size, info.Stride)
	}

	pointers, _ := descriptor.NewStructArray(boxed, 4, descriptor.Inline)
	info, err = c.Calculate(pointers)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 4*ptrSize || info.Stride != ptrSize {
		t.Errorf("pointer items: size %d stride %d", info.Size, info.Stride)
	}
}

func TestSizedDynamicArray(t *testing.T) {
	c := NewCalculator()
	arr, _ := descriptor.NewArray(descriptor.F64, descriptor.UnknownLength, descriptor.Indirect)
	info, err := c.Sized(arr, 5)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 40 || info.Align != 8 {
		t.Errorf("got %d/%d, want 40/8", info.Size, info.Align)
	}
	if _, err := c.Sized(arr, -1); err == nil {
		t.Error("negative count should fail")
	}
}

func TestArgInfo(t *testing.T) {
	c := NewCalculator()
	inline := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "x", Type: descriptor.I32},
		descriptor.Field{Name: "y", Type: descriptor.I32},
	)
	arr, _ := descriptor.NewArray(descriptor.I32, 8, descriptor.Inline)

	if info, _ := c.ArgInfo(inline); info.Size != 8 {
		t.Errorf("inline struct arg: size %d, want 8", info.Size)
	}
	if info, _ := c.ArgInfo(arr); info.Size != ptrSize {
		t.Errorf("inline array arg: size %d, want pointer", info.Size)
	}
	if info, _ := c.ArgInfo(descriptor.I16); info.Size != 2 {
		t.Errorf("i16 arg: size %d, want 2", info.Size)
	}
}

func TestCaching(t *testing.T) {
	c := NewCalculator()
	st := descriptor.MustStruct(descriptor.Inline, descriptor.Field{Name: "x", Type: descriptor.U32})

	info1, _ := c.Calculate(st)
	info2, _ := c.Calculate(st)
	if info1.Size != info2.Size || len(c.cache) != 1 {
		t.Error("cached results should be identical")
	}
}

func TestOverflow(t *testing.T) {
	c := NewCalculator()
	big, _ := descriptor.NewArray(descriptor.U64, 1<<61, descriptor.Inline)
	if _, err := c.Calculate(big); err == nil {
		t.Error("oversized array should overflow")
	}
}
