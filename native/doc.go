// Package native is the process-memory side of the bridge: raw access to
// native memory by address, an mmap-backed arena, the libc allocator with
// errno helpers, and shared library loading through purego.
//
// Nothing in this package uses cgo.
//
//	libc, err := native.SystemLibc()
//	p, err := libc.Alloc(64, 8)
//	defer libc.Free(p)
//	native.Memory{}.WriteU32(p, 42)
package native
