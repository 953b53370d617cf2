package transcoder

import (
	"testing"

	"github.com/wippyai/ffi-runtime/descriptor"
)

func benchCodec(b *testing.B) (*Decoder, *mockMemory, *mockAllocator, *LayoutCalculator) {
	b.Helper()
	mem := newMockMemory(1 << 24)
	alloc := newMockAllocator(mem)
	lc := NewLayoutCalculator()
	return NewDecoder(mem, WithDecoderLayout(lc)), mem, alloc, lc
}

func BenchmarkEncodeStruct(b *testing.B) {
	_, mem, alloc, lc := benchCodec(b)
	st := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "x", Type: descriptor.I32},
		descriptor.Field{Name: "y", Type: descriptor.I32},
		descriptor.Field{Name: "w", Type: descriptor.F64},
	)
	value := om("x", 1, "y", 2, "w", 0.5)
	region, _ := alloc.Alloc(16, 8)
	target := Borrow(region, 16)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		list := NewAllocationList()
		enc := NewEncoder(mem, alloc, WithLayout(lc), WithAllocations(list))
		if _, err := enc.Encode(st, value, &target); err != nil {
			b.Fatal(err)
		}
		list.Release()
	}
}

func BenchmarkDecodeStruct(b *testing.B) {
	dec, mem, alloc, lc := benchCodec(b)
	st := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "x", Type: descriptor.I32},
		descriptor.Field{Name: "y", Type: descriptor.I32},
		descriptor.Field{Name: "w", Type: descriptor.F64},
	)
	region, err := NewEncoder(mem, alloc, WithLayout(lc)).Encode(st, om("x", 1, "y", 2, "w", 0.5), nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Decode(st, region); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeF64Array(b *testing.B) {
	dec, mem, alloc, lc := benchCodec(b)
	arr, _ := descriptor.NewArray(descriptor.F64, 1024, descriptor.Indirect)
	values := make([]float64, 1024)
	for i := range values {
		values[i] = float64(i)
	}
	region, err := NewEncoder(mem, alloc, WithLayout(lc)).Encode(arr, values, nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Decode(arr, region); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLayoutCached(b *testing.B) {
	lc := NewLayoutCalculator()
	inner := descriptor.MustStruct(descriptor.Inline,
		descriptor.Field{Name: "a", Type: descriptor.U8},
		descriptor.Field{Name: "b", Type: descriptor.I64},
	)
	st := descriptor.MustStruct(descriptor.Indirect,
		descriptor.Field{Name: "inner", Type: inner},
		descriptor.Field{Name: "name", Type: descriptor.CString},
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := lc.Block(st); err != nil {
			b.Fatal(err)
		}
	}
}
