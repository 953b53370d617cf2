// Package config loads ffirun's TOML configuration.
//
//	[runtime]
//	allocator = "arena"
//	arena_size = 4194304
//
//	[callbacks]
//	queue_size = 256
//
//	[[libraries]]
//	name = "libc"
//	path = "libc.so.6"
//
//	[libraries.functions.strlen]
//	params = ["cstring"]
//	return = "u64"
//
// Values missing from the file keep their Default. Schema exports the
// JSON Schema of the file format.
package config
