package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/vmihailenco/msgpack/v5"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	ffiruntime "github.com/wippyai/ffi-runtime"
	"github.com/wippyai/ffi-runtime/runtime"
)

var (
	keyColor     = color.New(color.FgCyan)
	numberColor  = color.New(color.FgYellow)
	stringColor  = color.New(color.FgGreen)
	pointerColor = color.New(color.FgMagenta)
	nullColor    = color.New(color.Faint)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// resultDoc is the serialized form of a call result.
type resultDoc struct {
	Value        any                      `json:"value" yaml:"value" msgpack:"value"`
	Errno        int32                    `json:"errno,omitempty" yaml:"errno,omitempty" msgpack:"errno,omitempty"`
	ErrnoMessage string                   `json:"errno_message,omitempty" yaml:"errno_message,omitempty" msgpack:"errno_message,omitempty"`
	Transferred  []ffiruntime.NativeOwned `json:"transferred,omitempty" yaml:"transferred,omitempty" msgpack:"transferred,omitempty"`
	Error        string                   `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
}

func newResultDoc(res runtime.Result, err error) resultDoc {
	doc := resultDoc{
		Value:        plain(res.Value),
		Errno:        res.Errno,
		ErrnoMessage: res.ErrnoMessage,
		Transferred:  res.Transferred,
	}
	if err != nil {
		doc.Error = err.Error()
	}
	return doc
}

func writeResults(w io.Writer, format string, colored bool, docs []resultDoc) error {
	var v any = docs
	if len(docs) == 1 {
		v = docs[0]
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "msgpack":
		return msgpack.NewEncoder(w).Encode(v)
	}

	color.NoColor = !colored
	for i, d := range docs {
		if len(docs) > 1 {
			fmt.Fprintf(w, "%s ", keyColor.Sprintf("[%d]", i))
		}
		if d.Error != "" {
			fmt.Fprintln(w, errorColor.Sprint("error: ")+d.Error)
			continue
		}
		fmt.Fprintln(w, pretty(d.Value, 0))
		if d.Errno != 0 {
			fmt.Fprintf(w, "  %s %d (%s)\n", keyColor.Sprint("errno:"), d.Errno, d.ErrnoMessage)
		}
		for _, t := range d.Transferred {
			fmt.Fprintf(w, "  %s %s (%d bytes)\n", keyColor.Sprint("transferred:"), ffiruntime.Pointer(t.Ptr), t.Size)
		}
	}
	return nil
}

// plain wraps decoded structs so every output format can encode them.
func plain(v any) any {
	switch x := v.(type) {
	case *orderedmap.OrderedMap[string, any]:
		out := orderedmap.New[string, any]()
		for pair := x.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, plain(pair.Value))
		}
		return orderedValue{out}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// orderedValue carries struct field order through JSON and YAML, and
// falls back to a map for msgpack.
type orderedValue struct {
	m *orderedmap.OrderedMap[string, any]
}

func (o orderedValue) MarshalJSON() ([]byte, error) { return o.m.MarshalJSON() }

func (o orderedValue) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		var val yaml.Node
		if err := val.Encode(pair.Value); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: pair.Key}, &val)
	}
	return n, nil
}

func (o orderedValue) EncodeMsgpack(enc *msgpack.Encoder) error {
	m := make(map[string]any, o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = pair.Value
	}
	return enc.Encode(m)
}

func pretty(v any, indent int) string {
	pad := strings.Repeat("  ", indent)
	switch x := v.(type) {
	case nil:
		return nullColor.Sprint("null")
	case string:
		return stringColor.Sprintf("%q", x)
	case ffiruntime.Pointer:
		return pointerColor.Sprint(x.String())
	case orderedValue:
		var b strings.Builder
		b.WriteString("{\n")
		for pair := x.m.Oldest(); pair != nil; pair = pair.Next() {
			fmt.Fprintf(&b, "%s  %s %s\n", pad, keyColor.Sprint(pair.Key+":"), pretty(pair.Value, indent+1))
		}
		b.WriteString(pad + "}")
		return b.String()
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = pretty(e, indent+1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("{\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s  %s %s\n", pad, keyColor.Sprint(k+":"), pretty(x[k], indent+1))
		}
		b.WriteString(pad + "}")
		return b.String()
	}
	return numberColor.Sprint(v)
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorColor.Sprint("error: ")+err.Error())
}
