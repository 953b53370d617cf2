package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:      PhaseEncode,
				Kind:       KindTypeMismatch,
				Path:       []string{"rect", "origin", "x"},
				GoType:     "string",
				NativeType: "i32",
				Detail:     "cannot convert",
			},
			contains: []string{"[encode]", "type_mismatch", "rect.origin.x", "string", "i32", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "native type only",
			err: &Error{
				Phase:      PhaseDecode,
				Kind:       KindNilPointer,
				NativeType: "cstring",
				Detail:     "nil pointer",
			},
			contains: []string{"native type cstring - nil pointer"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindTypeMismatch,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseEncode, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseEncode, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	target := &Error{Phase: PhaseEncode, Kind: KindTypeMismatch}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match")
	}

	var asErr *Error
	if !errors.As(error(err), &asErr) || asErr.Path[0] != "foo" {
		t.Error("errors.As should expose the structured error")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseEncode, KindTypeMismatch).
		Path("point", "x").
		GoType("string").
		NativeType("i32").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "i32", "string").
		Build()

	if err.Phase != PhaseEncode {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseEncode)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "point" || err.Path[1] != "x" {
		t.Errorf("Path = %v, want [point x]", err.Path)
	}
	if err.GoType != "string" {
		t.Errorf("GoType = %v, want 'string'", err.GoType)
	}
	if err.NativeType != "i32" {
		t.Errorf("NativeType = %v, want 'i32'", err.NativeType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got string" {
		t.Errorf("Detail = %v, want 'expected i32, got string'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("TypeMismatch", func(t *testing.T) {
		err := TypeMismatch(PhaseEncode, []string{"field"}, "[]string", "i32")
		if err.Kind != KindTypeMismatch {
			t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
		}
		if err.GoType != "[]string" || err.NativeType != "i32" {
			t.Errorf("GoType=%v NativeType=%v", err.GoType, err.NativeType)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseEncode, 1024, 8)
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("UnknownTag", func(t *testing.T) {
		err := UnknownTag(42)
		if err.Phase != PhaseClassify || err.Kind != KindUnsupported {
			t.Errorf("got %s/%s", err.Phase, err.Kind)
		}
		if err.Value != 42 {
			t.Errorf("Value = %v, want 42", err.Value)
		}
	})

	t.Run("LengthRequired", func(t *testing.T) {
		err := LengthRequired([]string{"items"}, "[]i32")
		if err.Kind != KindLengthRequired || err.Phase != PhaseDecode {
			t.Errorf("got %s/%s", err.Phase, err.Kind)
		}
	})

	t.Run("External", func(t *testing.T) {
		cause := errors.New("dlopen failed")
		err := External(PhaseLoad, "open libfoo", cause)
		if err.Kind != KindExternal {
			t.Errorf("Kind = %v, want %v", err.Kind, KindExternal)
		}
		if !errors.Is(err, cause) {
			t.Error("cause should be reachable")
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseDecode, []string{"list"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseEncode, []string{"val"}, 300, "u8")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
		if err.Value != 300 {
			t.Errorf("Value = %v, want 300", err.Value)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseCallback, "dispatcher")
		if err.Kind != KindClosed || !strings.Contains(err.Error(), "dispatcher is closed") {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestMissingSymbolsError(t *testing.T) {
	t.Run("single symbol", func(t *testing.T) {
		err := NewMissingSymbolsError([]string{"libc#strlenx"})
		if len(err.Symbols) != 1 {
			t.Fatalf("expected 1 symbol, got %d", len(err.Symbols))
		}
		if err.Symbols[0].Library != "libc" {
			t.Errorf("library = %q, want libc", err.Symbols[0].Library)
		}
		if err.Symbols[0].Symbol != "strlenx" {
			t.Errorf("symbol = %q, want strlenx", err.Symbols[0].Symbol)
		}
	})

	t.Run("grouped by library", func(t *testing.T) {
		err := NewMissingSymbolsError([]string{
			"libc#foo",
			"libm#bar",
			"libc#baz",
		})
		msg := err.Error()
		if !strings.Contains(msg, "missing 3 symbol(s)") {
			t.Errorf("error should contain count, got %s", msg)
		}
		if strings.Count(msg, "libc:") != 1 {
			t.Errorf("libc should appear once as a group, got %s", msg)
		}
		if !strings.Contains(msg, "libm:") {
			t.Errorf("error should contain second library")
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := NewMissingSymbolsError(nil)
		if !strings.Contains(err.Error(), "no symbols specified") {
			t.Errorf("unexpected message %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingSymbolsError([]string{"lib#fn"})
		if !errors.Is(err, &MissingSymbolsError{}) {
			t.Error("errors.Is should match MissingSymbolsError")
		}
	})
}
