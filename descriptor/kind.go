package descriptor

// Kind is the closed set of native shapes a descriptor can take.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindU8
	KindI16
	KindI32
	KindI64
	KindU32
	KindU64
	KindF32
	KindF64
	KindPointer
	KindCString
	KindWideCString
	KindArray
	KindStruct
	KindStructArray
	KindCallback
)

var kindNames = [...]string{
	KindVoid:        "void",
	KindBool:        "bool",
	KindU8:          "u8",
	KindI16:         "i16",
	KindI32:         "i32",
	KindI64:         "i64",
	KindU32:         "u32",
	KindU64:         "u64",
	KindF32:         "f32",
	KindF64:         "f64",
	KindPointer:     "pointer",
	KindCString:     "string",
	KindWideCString: "wstring",
	KindArray:       "array",
	KindStruct:      "struct",
	KindStructArray: "struct_array",
	KindCallback:    "function",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPrimitive reports whether k is a leaf kind.
func (k Kind) IsPrimitive() bool {
	return k <= KindWideCString
}

// IsComposite reports whether k nests other descriptors.
func (k Kind) IsComposite() bool {
	return k >= KindArray && k <= KindCallback
}

// IsInteger covers every integral kind, bool included.
func (k Kind) IsInteger() bool {
	return k >= KindBool && k <= KindU64
}

func (k Kind) IsFloat() bool {
	return k == KindF32 || k == KindF64
}

// IsString reports whether k is passed as a pointer to a NUL-terminated buffer.
func (k Kind) IsString() bool {
	return k == KindCString || k == KindWideCString
}

// Storage says whether a composite is embedded in its parent or referenced
// through a pointer.
type Storage uint8

const (
	Indirect Storage = iota
	Inline
)

func (s Storage) String() string {
	if s == Inline {
		return "inline"
	}
	return "indirect"
}

// DeliveryMode selects how a callback invocation reaches its Go handler.
type DeliveryMode uint8

const (
	// NonBlocking queues the invocation and returns to native code at once.
	NonBlocking DeliveryMode = iota
	// Blocking waits for the handler and hands its result back to native code.
	Blocking
)

func (m DeliveryMode) String() string {
	if m == Blocking {
		return "blocking"
	}
	return "nonblocking"
}
