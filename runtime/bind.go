package runtime

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
)

// TagName is the struct tag Bind reads symbol names from.
const TagName = "ffi"

var pointerType = reflect.TypeOf(ffiruntime.Pointer(0))

// Bind fills the func fields of the struct target points to with calls
// into library. Each field names its symbol with an `ffi:"name"` tag or,
// without one, by its name in snake_case (GetPID -> get_pid). Fields
// tagged `ffi:"-"` and non-func fields are skipped.
//
// Signatures come from the Go types: an optional leading context.Context,
// then scalar, bool, string or Pointer parameters, and results of either
// (error) or (T, error).
//
//	var libc struct {
//	    Abs    func(int32) (int32, error)
//	    Strlen func(ctx context.Context, s string) (uint64, error) `ffi:"strlen"`
//	}
//	err := rt.Bind("libc", &libc)
func (r *Runtime) Bind(library string, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			GoType(typeString(target)).
			Detail("bind target must be a non-nil pointer to a struct").
			Build()
	}
	sv := rv.Elem()
	st := sv.Type()

	type binding struct {
		field int
		name  string
	}
	var bindings []binding
	sigs := make(map[string]Signature)
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.Func {
			continue
		}
		name := f.Tag.Get(TagName)
		if name == "-" {
			continue
		}
		if name == "" {
			name = toSnakeCase(f.Name)
		}
		sig, err := signatureOf(f.Type)
		if err != nil {
			return errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
				Path(st.Name(), f.Name).
				GoType(f.Type.String()).
				Cause(err).
				Detail("cannot bind field").
				Build()
		}
		if prev, dup := sigs[name]; dup && prev.String() != sig.String() {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Path(st.Name(), f.Name).
				Detail("symbol %q bound with two signatures", name).
				Build()
		}
		sigs[name] = sig
		bindings = append(bindings, binding{field: i, name: name})
	}

	funcs, err := r.Define(library, sigs)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		field := sv.Field(b.field)
		field.Set(makeCaller(field.Type(), funcs[b.name]))
	}
	return nil
}

func makeCaller(ft reflect.Type, fn *Func) reflect.Value {
	withCtx := ft.NumIn() > 0 && ft.In(0) == contextType
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if withCtx {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		value, err := fn.Call(ctx, args...)

		out := make([]reflect.Value, ft.NumOut())
		last := ft.NumOut() - 1
		out[last] = reflect.Zero(errorType)
		if last == 1 {
			out[0] = reflect.Zero(ft.Out(0))
			if err == nil && value != nil {
				rv := reflect.ValueOf(value)
				if rv.Type().ConvertibleTo(ft.Out(0)) {
					out[0] = rv.Convert(ft.Out(0))
				} else {
					err = errors.TypeMismatch(errors.PhaseDecode, nil, rv.Type().String(), ft.Out(0).String())
				}
			}
		}
		if err != nil {
			out[last] = reflect.ValueOf(&err).Elem()
		}
		return out
	})
}

// signatureOf derives a native signature from a Go func type.
func signatureOf(ft reflect.Type) (Signature, error) {
	if ft.IsVariadic() {
		return Signature{}, errors.Unsupported(errors.PhaseLoad, "variadic Go funcs")
	}
	switch {
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return Signature{}, errors.InvalidInput(errors.PhaseLoad, "results must be (error) or (T, error)")
	}

	var sig Signature
	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		start = 1
	}
	for i := start; i < ft.NumIn(); i++ {
		t, err := descriptorOf(ft.In(i))
		if err != nil {
			return Signature{}, err
		}
		sig.Params = append(sig.Params, t)
	}
	sig.Return = descriptor.Void
	if ft.NumOut() == 2 {
		t, err := descriptorOf(ft.Out(0))
		if err != nil {
			return Signature{}, err
		}
		sig.Return = t
	}
	return sig, nil
}

func descriptorOf(t reflect.Type) (descriptor.Type, error) {
	if t == pointerType {
		return descriptor.Pointer, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return descriptor.Bool, nil
	case reflect.Uint8:
		return descriptor.U8, nil
	case reflect.Int16:
		return descriptor.I16, nil
	case reflect.Int32:
		return descriptor.I32, nil
	case reflect.Int64, reflect.Int:
		return descriptor.I64, nil
	case reflect.Uint32:
		return descriptor.U32, nil
	case reflect.Uint64, reflect.Uint:
		return descriptor.U64, nil
	case reflect.Uintptr:
		return descriptor.Pointer, nil
	case reflect.Float32:
		return descriptor.F32, nil
	case reflect.Float64:
		return descriptor.F64, nil
	case reflect.String:
		return descriptor.CString, nil
	}
	return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
		GoType(t.String()).
		Detail("no native descriptor for Go type").
		Build()
}

func typeString(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// toSnakeCase converts PascalCase to snake_case. An uppercase run is one
// word (HTTPServer -> http_server), so adjacent acronyms merge:
// GetHTTPURL -> get_httpurl.
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
