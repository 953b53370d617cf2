package main

import (
	"fmt"
	"strconv"
	"strings"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/runtime"
)

// parseSignature reads --params and --return, both YAML or JSON documents.
func parseSignature(params, ret string, fixed int) (runtime.Signature, error) {
	var docs []any
	if strings.TrimSpace(params) != "" {
		doc, err := descriptor.DecodeYAML([]byte(params))
		if err != nil {
			return runtime.Signature{}, err
		}
		switch d := doc.(type) {
		case []any:
			docs = d
		case nil:
		default:
			docs = []any{d}
		}
	}
	var retDoc any
	if strings.TrimSpace(ret) != "" {
		doc, err := descriptor.DecodeYAML([]byte(ret))
		if err != nil {
			return runtime.Signature{}, err
		}
		retDoc = doc
	}
	sig, err := runtime.ParseSignature(docs, retDoc)
	if err != nil {
		return runtime.Signature{}, err
	}
	if fixed >= 0 {
		sig.Variadic = true
		sig.Fixed = fixed
	}
	return sig, sig.Validate()
}

// parseArg converts command line text to a value for t. Scalars are read
// directly; composites are YAML documents.
func parseArg(t descriptor.Type, s string) (any, error) {
	p, ok := t.(descriptor.Primitive)
	if !ok {
		if _, cb := t.(*descriptor.Callback); cb {
			return parsePointer(s)
		}
		return descriptor.DecodeYAML([]byte(s))
	}
	switch p.Kind() {
	case descriptor.KindBool:
		return strconv.ParseBool(s)
	case descriptor.KindU8:
		v, err := strconv.ParseUint(s, 0, 8)
		return uint8(v), err
	case descriptor.KindI16:
		v, err := strconv.ParseInt(s, 0, 16)
		return int16(v), err
	case descriptor.KindI32:
		v, err := strconv.ParseInt(s, 0, 32)
		return int32(v), err
	case descriptor.KindI64:
		return strconv.ParseInt(s, 0, 64)
	case descriptor.KindU32:
		v, err := strconv.ParseUint(s, 0, 32)
		return uint32(v), err
	case descriptor.KindU64:
		return strconv.ParseUint(s, 0, 64)
	case descriptor.KindF32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case descriptor.KindF64:
		return strconv.ParseFloat(s, 64)
	case descriptor.KindPointer:
		return parsePointer(s)
	case descriptor.KindCString, descriptor.KindWideCString:
		if s == "null" {
			return nil, nil
		}
		return s, nil
	}
	return nil, fmt.Errorf("no argument syntax for %s", t)
}

func parsePointer(s string) (any, error) {
	switch s {
	case "", "null", "nil", "0":
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, err
	}
	return ffiruntime.Pointer(uintptr(v)), nil
}

func parseArgs(sig runtime.Signature, raw []string) ([]any, error) {
	if len(raw) != len(sig.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", sig, len(sig.Params), len(raw))
	}
	args := make([]any, len(raw))
	for i, s := range raw {
		v, err := parseArg(sig.Params[i], s)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
