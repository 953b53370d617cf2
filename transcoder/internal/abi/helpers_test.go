package abi

import (
	"math"
	"testing"
)

func TestSafeMul(t *testing.T) {
	tests := []struct {
		name   string
		a, b   uintptr
		want   uintptr
		wantOK bool
	}{
		{"zero * zero", 0, 0, 0, true},
		{"zero * max", 0, math.MaxUint, 0, true},
		{"max * zero", math.MaxUint, 0, 0, true},
		{"small * small", 100, 200, 20000, true},
		{"max * one", math.MaxUint, 1, math.MaxUint, true},
		{"half * two", math.MaxUint / 2, 2, (math.MaxUint / 2) * 2, true},
		{"overflow", math.MaxUint, 2, 0, false},
		{"overflow symmetric", 2, math.MaxUint, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeMul(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Errorf("SafeMul(%d, %d) ok = %v, want %v", tt.a, tt.b, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("SafeMul(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSafeAdd(t *testing.T) {
	if got, ok := SafeAdd(3, 4); !ok || got != 7 {
		t.Errorf("SafeAdd(3, 4) = %d, %v", got, ok)
	}
	if _, ok := SafeAdd(math.MaxUint, 1); ok {
		t.Error("SafeAdd(max, 1) should overflow")
	}
}

func TestAlignTo(t *testing.T) {
	tests := []struct {
		offset, align, want uintptr
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{9, 1, 9},
		{13, 0, 13},
		{1, 8, 8},
	}
	for _, tt := range tests {
		if got := AlignTo(tt.offset, tt.align); got != tt.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tt.offset, tt.align, got, tt.want)
		}
		if pad := Padding(tt.offset, tt.align); tt.offset+pad != tt.want {
			t.Errorf("Padding(%d, %d) = %d", tt.offset, tt.align, pad)
		}
	}
}

func TestAllocShape(t *testing.T) {
	size, align := AllocShape(0, 1)
	if size != MinAllocSize || align != MinAllocAlign {
		t.Errorf("empty shape = %d/%d, want %d/%d", size, align, MinAllocSize, MinAllocAlign)
	}
	size, align = AllocShape(16, 8)
	if size != 16 || align != 8 {
		t.Errorf("shape = %d/%d, want 16/8", size, align)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, "nil"},
		{"int", 42, "int"},
		{"string", "hello", "string"},
		{"float64", 3.14, "float64"},
		{"slice", []int{1, 2, 3}, "[]int"},
		{"map", map[string]any{}, "map[string]interface {}"},
		{"pointer", new(int), "*int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeName(tt.input); got != tt.want {
				t.Errorf("TypeName(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestWideRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "héllo wörld", "日本語", "emoji 🎉"} {
		enc, err := EncodeWide(s)
		if err != nil {
			t.Fatalf("EncodeWide(%q): %v", s, err)
		}
		if len(enc)%WcharSize != 0 {
			t.Fatalf("EncodeWide(%q) length %d not a multiple of %d", s, len(enc), WcharSize)
		}
		n := WideLen(enc)
		if n != len(enc)-WcharSize {
			t.Fatalf("WideLen(%q) = %d, want %d", s, n, len(enc)-WcharSize)
		}
		got, err := DecodeWide(enc[:n])
		if err != nil {
			t.Fatalf("DecodeWide: %v", err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}
}

func TestWideLenWithoutTerminator(t *testing.T) {
	if n := WideLen([]byte{'a', 0, 0, 1}); n != -1 && WcharSize == 4 {
		t.Errorf("WideLen = %d, want -1", n)
	}
}
