package native

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wippyai/ffi-runtime/errors"
)

// DefaultArenaSize is used when NewArena is given a non-positive size.
const DefaultArenaSize = 1 << 20

// Arena is a bump allocator over an anonymous private mapping. Its memory
// is outside the Go heap, so native code may keep addresses into it.
// Freeing the most recent block or the last live one rewinds the bump
// offset; other space comes back through Reset.
type Arena struct {
	live   map[uintptr]uintptr
	mem    []byte
	base   uintptr
	off    uintptr
	mu     sync.Mutex
	closed bool
}

func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		size = DefaultArenaSize
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.External(errors.PhaseRuntime, "mmap arena", err)
	}
	return &Arena{
		mem:  mem,
		base: uintptr(unsafe.Pointer(&mem[0])),
		live: make(map[uintptr]uintptr),
	}, nil
}

func (a *Arena) Alloc(size, align uintptr) (uintptr, error) {
	if align == 0 {
		align = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, errors.Closed(errors.PhaseRuntime, "arena")
	}
	addr := (a.base + a.off + align - 1) / align * align
	end := addr - a.base + size
	if end > uintptr(len(a.mem)) || end < a.off {
		return 0, errors.AllocationFailed(errors.PhaseRuntime, size, align)
	}
	a.off = end
	a.live[addr] = size
	return addr, nil
}

func (a *Arena) Free(addr uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.live[addr]
	if !ok {
		return
	}
	delete(a.live, addr)
	switch {
	case len(a.live) == 0:
		clear(a.mem[:a.off])
		a.off = 0
	case addr+size == a.base+a.off:
		start := addr - a.base
		clear(a.mem[start:a.off])
		a.off = start
	}
}

// Live reports the number of blocks allocated and not yet freed.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Used reports the bytes consumed including alignment padding.
func (a *Arena) Used() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// Contains reports whether addr lies inside the mapping.
func (a *Arena) Contains(addr uintptr) bool {
	return addr >= a.base && addr < a.base+uintptr(len(a.mem))
}

// Reset zeroes the used region and forgets every block.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	clear(a.mem[:a.off])
	a.off = 0
	clear(a.live)
}

func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.live = nil
	if err := unix.Munmap(a.mem); err != nil {
		return errors.External(errors.PhaseRuntime, "munmap arena", err)
	}
	a.mem = nil
	return nil
}
