// Package transcoder moves values between Go and native memory, driven by
// descriptors from the descriptor package.
//
// # Value Model
//
//	Descriptor      Go value
//	──────────────────────────────────────────────────────
//	bool            bool
//	u8 i16 i32 i64  uint8 int16 int32 int64
//	u32 u64         uint32 uint64
//	f32 f64         float32 float64
//	pointer         ffiruntime.Pointer
//	string wstring  string (nil for the null pointer)
//	array           typed slice ([]int32, []byte, []string, ...)
//	struct          *orderedmap.OrderedMap[string, any]
//	struct array    []*orderedmap.OrderedMap[string, any]
//	function        ffiruntime.Pointer
//
// The encoder also accepts map[string]any for structs, []any for arrays,
// any numeric Go type that fits the target, and any value with a
// Bytes() []byte method for byte arrays.
//
// # Regions and Ownership
//
// Encode and Decode work on a Region: a block of native memory plus who
// owns it. Blocks the encoder allocates for the caller are Owned; strings
// and indirect blocks reachable through pointers are Transferred, recorded
// as ffiruntime.NativeOwned in the AllocationList and never freed unless
// the caller asks. Word regions carry the raw argument words libffi hands
// to closures.
//
// # Key Types
//
//	LayoutCalculator - Sizes, alignments and field offsets
//	Encoder          - Writes Go values to native memory
//	Decoder          - Reads native memory into Go values
//	AllocationList   - Tracks encoder allocations
//
// # Encoding Flow
//
//	enc := transcoder.NewEncoder(mem, alloc)
//	region, err := enc.Encode(t, value, nil)
//	defer enc.Allocations().FreeAndRelease(alloc)
//
// # Decoding Flow
//
//	dec := transcoder.NewDecoder(mem)
//	value, err := dec.Decode(t, region)
//
// Arrays decode only with an explicit length; a descriptor without one is
// a length_required error.
package transcoder
