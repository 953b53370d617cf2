package descriptor

import (
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-runtime/errors"
)

// TagKey is the reserved document key that tags a document's composite kind.
// It can never be used as a struct field name.
const TagKey = "ffiTypeTag"

const (
	tagArray       = "array"
	tagFunction    = "function"
	tagStruct      = "struct"
	tagStackStruct = "stackStruct"

	keyType     = "type"
	keyLength   = "length"
	keyDynamic  = "dynamicArray"
	keyParams   = "paramsType"
	keyReturn   = "retType"
	keyBlocking = "blocking"
)

// Document is the ordered key-value form of a composite descriptor.
type Document = *orderedmap.OrderedMap[string, any]

// NewDocument returns an empty document.
func NewDocument() Document {
	return orderedmap.New[string, any]()
}

// Parse builds a descriptor from a document tree: leaf tags (numbers or
// names), ordered struct documents, and tagged array or function documents.
// Plain map[string]any values are accepted for tagged documents and for
// structs with at most one field, since they carry no field order.
func Parse(doc any) (Type, error) {
	return parse(doc, nil)
}

// ParseList parses an ordered list of documents, as used for parameters.
func ParseList(docs []any) ([]Type, error) {
	out := make([]Type, len(docs))
	for i, d := range docs {
		t, err := parse(d, []string{"[" + strconv.Itoa(i) + "]"})
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// ParseYAML decodes a YAML (or JSON) document preserving key order.
func ParseYAML(data []byte) (Type, error) {
	doc, err := DecodeYAML(data)
	if err != nil {
		return nil, err
	}
	return Parse(doc)
}

// ParseJSON decodes a JSON document preserving key order.
func ParseJSON(data []byte) (Type, error) {
	return ParseYAML(data)
}

// DecodeYAML turns YAML or JSON text into a document tree whose mappings
// are ordered documents.
func DecodeYAML(data []byte) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.New(errors.PhaseClassify, errors.KindInvalidData).
			Detail("parse descriptor document").
			Cause(err).
			Build()
	}
	if root.Kind == 0 {
		return nil, errors.InvalidInput(errors.PhaseClassify, "empty descriptor document")
	}
	return FromNode(&root)
}

// FromNode converts a yaml node into a document tree.
func FromNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return FromNode(n.Content[0])
	case yaml.AliasNode:
		return FromNode(n.Alias)
	case yaml.MappingNode:
		doc := NewDocument()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			val, err := FromNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			if _, dup := doc.Get(key); dup {
				return nil, errors.New(errors.PhaseClassify, errors.KindInvalidData).
					Path(key).
					Detail("duplicate key in descriptor document").
					Build()
			}
			doc.Set(key, val)
		}
		return doc, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := FromNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, errors.New(errors.PhaseClassify, errors.KindInvalidData).
				Detail("decode scalar at line %d", n.Line).
				Cause(err).
				Build()
		}
		return v, nil
	}
}

func parse(doc any, path []string) (Type, error) {
	switch d := doc.(type) {
	case *orderedmap.OrderedMap[string, any]:
		if d == nil {
			return nil, errors.InvalidInput(errors.PhaseClassify, "nil descriptor document")
		}
		return parseObject(d, path)
	case map[string]any:
		return parseObject(fromMap(d), path)
	case nil:
		return nil, errors.New(errors.PhaseClassify, errors.KindInvalidInput).
			Path(path...).
			Detail("missing descriptor").
			Build()
	default:
		t, err := Classify(doc)
		if err != nil {
			if e, ok := err.(*errors.Error); ok && len(path) > 0 {
				e.Path = path
			}
			return nil, err
		}
		return t, nil
	}
}

// fromMap orders an unordered map only when order cannot matter.
func fromMap(m map[string]any) Document {
	doc := NewDocument()
	if _, tagged := m[TagKey]; tagged {
		if s, ok := m[TagKey].(string); ok && (s == tagArray || s == tagFunction) {
			for k, v := range m {
				doc.Set(k, v)
			}
			return doc
		}
	}
	fields := 0
	for k := range m {
		if k != TagKey {
			fields++
		}
	}
	if fields > 1 {
		// Field order would be random; flag it for parseObject.
		doc.Set(TagKey, unorderedMarker{})
		return doc
	}
	for k, v := range m {
		doc.Set(k, v)
	}
	return doc
}

type unorderedMarker struct{}

func parseObject(d Document, path []string) (Type, error) {
	tagVal, tagged := d.Get(TagKey)
	if _, bad := tagVal.(unorderedMarker); bad {
		return nil, errors.New(errors.PhaseClassify, errors.KindInvalidInput).
			Path(path...).
			Detail("struct documents with several fields must be ordered").
			Build()
	}
	if tagged {
		if s, ok := tagVal.(string); ok {
			switch s {
			case tagArray:
				return parseArray(d, path)
			case tagFunction:
				return parseFunction(d, path)
			case tagStruct:
				return parseStruct(d, Indirect, path)
			case tagStackStruct:
				return parseStruct(d, Inline, path)
			}
			return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
				Path(path...).
				Value(s).
				Detail("unknown %s value %q", TagKey, s).
				Build()
		}
		if n, ok := tagNumber(tagVal); ok && n == TagStackStruct {
			return parseStruct(d, Inline, path)
		}
		return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Path(path...).
			Value(tagVal).
			Detail("unknown %s value %v", TagKey, tagVal).
			Build()
	}
	return parseStruct(d, Indirect, path)
}

func parseStruct(d Document, storage Storage, path []string) (Type, error) {
	fields := make([]Field, 0, d.Len())
	for pair := d.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == TagKey {
			continue
		}
		ft, err := parse(pair.Value, appendPath(path, pair.Key))
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: pair.Key, Type: ft})
	}
	s, err := NewStruct(storage, fields...)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.Path = append(append([]string(nil), path...), e.Path...)
		}
		return nil, err
	}
	return s, nil
}

func parseArray(d Document, path []string) (Type, error) {
	elemDoc, ok := d.Get(keyType)
	if !ok {
		return nil, errors.FieldMissing(errors.PhaseClassify, path, keyType)
	}

	length := UnknownLength
	if raw, ok := d.Get(keyLength); ok {
		n, ok := tagNumber(raw)
		if !ok || n < 0 {
			return nil, errors.New(errors.PhaseClassify, errors.KindInvalidData).
				Path(appendPath(path, keyLength)...).
				Value(raw).
				Detail("array length must be a non-negative integer").
				Build()
		}
		length = n
	}

	dynamic := false
	if raw, ok := d.Get(keyDynamic); ok {
		b, isBool := raw.(bool)
		if !isBool {
			return nil, errors.TypeMismatch(errors.PhaseClassify, appendPath(path, keyDynamic), typeName(raw), "bool")
		}
		dynamic = b
	}

	storage := Inline
	if dynamic || length == UnknownLength {
		storage = Indirect
	}

	elem, err := parse(elemDoc, appendPath(path, keyType))
	if err != nil {
		return nil, err
	}
	switch e := elem.(type) {
	case Primitive:
		return NewArray(e, length, storage)
	case *Array:
		// Legacy form: the element is named by its array tag.
		return NewArray(e.Elem, length, storage)
	case *Struct:
		return NewStructArray(e, length, storage)
	default:
		return nil, errors.New(errors.PhaseClassify, errors.KindUnsupported).
			Path(appendPath(path, keyType)...).
			Detail("arrays of %s are not supported", elem).
			Build()
	}
}

func parseFunction(d Document, path []string) (Type, error) {
	var params []Type
	if raw, ok := d.Get(keyParams); ok {
		list, isList := raw.([]any)
		if !isList {
			return nil, errors.TypeMismatch(errors.PhaseClassify, appendPath(path, keyParams), typeName(raw), "list")
		}
		params = make([]Type, len(list))
		for i, p := range list {
			t, err := parse(p, appendPath(path, keyParams, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			params[i] = t
		}
	}

	var ret Type = Void
	if raw, ok := d.Get(keyReturn); ok {
		t, err := parse(raw, appendPath(path, keyReturn))
		if err != nil {
			return nil, err
		}
		ret = t
	}

	mode := NonBlocking
	if raw, ok := d.Get(keyBlocking); ok {
		b, isBool := raw.(bool)
		if !isBool {
			return nil, errors.TypeMismatch(errors.PhaseClassify, appendPath(path, keyBlocking), typeName(raw), "bool")
		}
		if b {
			mode = Blocking
		}
	}
	return NewCallback(params, ret, mode)
}

// ToDocument renders a descriptor back into its document form.
func ToDocument(t Type) any {
	switch v := t.(type) {
	case Primitive:
		return v.String()
	case *Array:
		doc := NewDocument()
		doc.Set(TagKey, tagArray)
		doc.Set(keyType, v.Elem.String())
		if v.HasLength() {
			doc.Set(keyLength, v.Len)
		}
		if v.Storage == Indirect {
			doc.Set(keyDynamic, true)
		}
		return doc
	case *Struct:
		doc := NewDocument()
		if v.Storage == Inline {
			doc.Set(TagKey, tagStackStruct)
		}
		for _, f := range v.Fields {
			doc.Set(f.Name, ToDocument(f.Type))
		}
		return doc
	case *StructArray:
		doc := NewDocument()
		doc.Set(TagKey, tagArray)
		doc.Set(keyType, ToDocument(v.Item))
		if v.HasLength() {
			doc.Set(keyLength, v.Len)
		}
		if v.Storage == Indirect {
			doc.Set(keyDynamic, true)
		}
		return doc
	case *Callback:
		doc := NewDocument()
		doc.Set(TagKey, tagFunction)
		params := make([]any, len(v.Params))
		for i, p := range v.Params {
			params[i] = ToDocument(p)
		}
		doc.Set(keyParams, params)
		doc.Set(keyReturn, ToDocument(v.Return))
		if v.Mode == Blocking {
			doc.Set(keyBlocking, true)
		}
		return doc
	default:
		return nil
	}
}

// MarshalYAML renders a descriptor as a YAML document.
func MarshalYAML(t Type) ([]byte, error) {
	return yaml.Marshal(ToDocument(t))
}

func appendPath(path []string, elems ...string) []string {
	out := make([]string, 0, len(path)+len(elems))
	out = append(out, path...)
	return append(out, elems...)
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	case Document:
		return "document"
	case int, int64, float64:
		return "number"
	default:
		return "value"
	}
}
