package runtime

import (
	"strconv"
	"strings"

	"github.com/wippyai/ffi-runtime/config"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/errors"
)

// Signature describes a native function. For a variadic function Params
// lists the fixed parameters followed by the types of this call's extra
// arguments, and Fixed counts the fixed ones.
type Signature struct {
	Params   []descriptor.Type
	Return   descriptor.Type
	Variadic bool
	Fixed    int
}

// ParseSignature builds a signature from descriptor documents.
func ParseSignature(params []any, ret any) (Signature, error) {
	ps, err := descriptor.ParseList(params)
	if err != nil {
		return Signature{}, err
	}
	sig := Signature{Params: ps, Return: descriptor.Void}
	if ret != nil {
		if sig.Return, err = descriptor.Parse(ret); err != nil {
			return Signature{}, err
		}
	}
	return sig, nil
}

// SignatureFromConfig converts a configured function.
func SignatureFromConfig(fc config.FunctionConfig) (Signature, error) {
	sig, err := ParseSignature(fc.Params, fc.Return)
	if err != nil {
		return Signature{}, err
	}
	if fc.Fixed != nil {
		sig.Variadic = true
		sig.Fixed = *fc.Fixed
	}
	return sig, sig.Validate()
}

// Validate checks the parameter list without preparing a call interface.
func (s Signature) Validate() error {
	for i, p := range s.Params {
		if p == nil || p.Kind() == descriptor.KindVoid {
			return errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
				Path("param[" + strconv.Itoa(i) + "]").
				Detail("parameters cannot be void").
				Build()
		}
	}
	if s.Variadic && (s.Fixed < 0 || s.Fixed > len(s.Params)) {
		return errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Value(s.Fixed).
			Detail("fixed parameter count %d outside 0..%d", s.Fixed, len(s.Params)).
			Build()
	}
	return nil
}

func (s Signature) ret() descriptor.Type {
	if s.Return == nil {
		return descriptor.Void
	}
	return s.Return
}

// String renders the signature; it doubles as the call interface cache key.
func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if s.Variadic && i == s.Fixed {
			b.WriteString("... ")
		}
		if p == nil {
			b.WriteString("<nil>")
			continue
		}
		b.WriteString(p.String())
	}
	if s.Variadic && s.Fixed == len(s.Params) {
		if len(s.Params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
	}
	b.WriteString(") ")
	b.WriteString(s.ret().String())
	return b.String()
}
