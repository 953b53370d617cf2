package native

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/ffi-runtime/errors"
)

func newTestArena(t *testing.T, size int) *Arena {
	t.Helper()
	a, err := NewArena(size)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArenaAlignment(t *testing.T) {
	a := newTestArena(t, 4096)

	tests := []struct {
		size, align uintptr
	}{
		{1, 1},
		{3, 4},
		{8, 8},
		{1, 16},
		{24, 8},
		{5, 64},
	}
	for _, tt := range tests {
		p, err := a.Alloc(tt.size, tt.align)
		if err != nil {
			t.Fatalf("Alloc(%d, %d): %v", tt.size, tt.align, err)
		}
		if p%tt.align != 0 {
			t.Errorf("Alloc(%d, %d) = %#x, misaligned", tt.size, tt.align, p)
		}
		if !a.Contains(p) {
			t.Errorf("address %#x outside arena", p)
		}
	}
	if a.Live() != len(tests) {
		t.Errorf("Live = %d, want %d", a.Live(), len(tests))
	}
}

func TestArenaExhaustion(t *testing.T) {
	a := newTestArena(t, 64)
	if _, err := a.Alloc(48, 8); err != nil {
		t.Fatal(err)
	}
	_, err := a.Alloc(32, 8)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindAllocation {
		t.Errorf("expected allocation error, got %v", err)
	}
}

func TestArenaFreeAndReset(t *testing.T) {
	a := newTestArena(t, 256)
	mem := Memory{}

	p, _ := a.Alloc(8, 8)
	if err := mem.WriteU64(p, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	a.Free(p)
	if a.Live() != 0 {
		t.Errorf("Live after Free = %d", a.Live())
	}

	a.Reset()
	if a.Used() != 0 {
		t.Errorf("Used after Reset = %d", a.Used())
	}
	q, _ := a.Alloc(8, 8)
	v, _ := mem.ReadU64(q)
	if v != 0 {
		t.Errorf("memory after Reset = %#x, want zeroed", v)
	}
}

func TestArenaFreeRewinds(t *testing.T) {
	t.Run("last live block", func(t *testing.T) {
		a := newTestArena(t, 256)
		for i := 0; i < 1000; i++ {
			p, err := a.Alloc(24, 8)
			if err != nil {
				t.Fatalf("Alloc #%d: %v", i, err)
			}
			q, err := a.Alloc(8, 8)
			if err != nil {
				t.Fatalf("Alloc #%d: %v", i, err)
			}
			a.Free(p)
			a.Free(q)
		}
		if a.Used() != 0 {
			t.Errorf("Used = %d, want 0", a.Used())
		}
	})

	t.Run("top block", func(t *testing.T) {
		a := newTestArena(t, 256)
		keep, _ := a.Alloc(8, 8)
		used := a.Used()
		top, _ := a.Alloc(16, 8)
		a.Free(top)
		if a.Used() != used {
			t.Errorf("Used = %d, want %d", a.Used(), used)
		}
		if a.Live() != 1 {
			t.Errorf("Live = %d, want 1", a.Live())
		}
		a.Free(keep)
	})

	t.Run("live block keeps its space", func(t *testing.T) {
		a := newTestArena(t, 256)
		mem := Memory{}
		keep, _ := a.Alloc(8, 8)
		if err := mem.WriteU64(keep, 42); err != nil {
			t.Fatal(err)
		}
		mid, _ := a.Alloc(8, 8)
		top, _ := a.Alloc(8, 8)
		a.Free(mid)
		a.Free(top)
		next, _ := a.Alloc(8, 8)
		if next == keep {
			t.Fatal("live block handed out again")
		}
		if v, _ := mem.ReadU64(keep); v != 42 {
			t.Errorf("live block = %d, want 42", v)
		}
	})
}

func TestArenaClosed(t *testing.T) {
	a, err := NewArena(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := a.Alloc(4, 4); err == nil {
		t.Error("Alloc after Close should fail")
	}
}

func TestMemoryReadWrite(t *testing.T) {
	a := newTestArena(t, 256)
	mem := Memory{}
	p, _ := a.Alloc(32, 8)

	if err := mem.WriteU8(p, 0xab); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU16(p+2, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU32(p+4, 0xcafebabe); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU64(p+8, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}

	got, err := mem.Read(p, 16)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xab, 0, 0x34, 0x12, 0xbe, 0xba, 0xfe, 0xca,
		8, 7, 6, 5, 4, 3, 2, 1,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("bytes = % x, want % x", got, want)
	}

	if err := mem.Write(p+16, []byte("hi\x00")); err != nil {
		t.Fatal(err)
	}
	n, err := mem.Strlen(p+16, 16)
	if err != nil || n != 2 {
		t.Errorf("Strlen = %d, %v", n, err)
	}

	view, _ := mem.View(p, 1)
	view[0] = 0xcd
	if b, _ := mem.ReadU8(p); b != 0xcd {
		t.Error("View does not alias memory")
	}
}

func TestMemoryNull(t *testing.T) {
	mem := Memory{}
	if _, err := mem.ReadU32(0); err == nil {
		t.Error("ReadU32(0) should fail")
	}
	if err := mem.WriteU8(0, 1); err == nil {
		t.Error("WriteU8(0) should fail")
	}
	if b, err := mem.Read(0, 0); err != nil || len(b) != 0 {
		t.Error("zero-length read of null should succeed")
	}
}
