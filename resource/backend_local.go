package resource

import (
	"sync"

	"github.com/wippyai/ffi-runtime/errors"
)

var (
	ErrClosed = errors.Closed(errors.PhaseRuntime, "resource backend")
	ErrPinned = errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("cannot drop a pinned resource").
			Build()
)

// LocalBackend is an in-memory resource backend with pin tracking.
// Implements both Backend and NativeBackend interfaces.
type LocalBackend struct {
	byAddr   map[uintptr]Handle
	entries  []entry
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value    any
	addr     uintptr
	pinCount uint32
	kind     Kind
	valid    bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		byAddr:   make(map[uintptr]Handle),
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Create stores a value and returns a handle. A non-zero addr is indexed
// for Lookup and must be unique among live entries.
func (b *LocalBackend) Create(kind Kind, addr uintptr, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if addr != 0 {
		if _, dup := b.byAddr[addr]; dup {
			return 0, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
				Value(addr).
				Detail("address %#x already registered", addr).
				Build()
		}
	}

	e := entry{
		kind:  kind,
		addr:  addr,
		value: value,
		valid: true,
	}

	var handle Handle
	if len(b.freeList) > 0 {
		handle = b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		b.entries[handle-1] = e
	} else {
		b.entries = append(b.entries, e)
		handle = Handle(len(b.entries))
	}
	if addr != 0 {
		b.byAddr[addr] = handle
	}
	return handle, nil
}

func (b *LocalBackend) entry(handle Handle) (*entry, bool) {
	if handle == 0 {
		return nil, false
	}
	idx := handle - 1
	if int(idx) >= len(b.entries) {
		return nil, false
	}
	e := &b.entries[idx]
	if !e.valid {
		return nil, false
	}
	return e, true
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entry(handle)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Drop removes a resource and returns (value, true) if destructor should be called.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	value, _, _, ok := b.DropIf(handle, nil)
	return value, ok
}

// DropIf is Drop restricted to entries whose value satisfies match; a nil
// match accepts any value. It also reports the dropped entry's kind and
// address.
func (b *LocalBackend) DropIf(handle Handle, match func(any) bool) (any, Kind, uintptr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entry(handle)
	if !ok || e.pinCount > 0 {
		return nil, KindAny, 0, false
	}
	if match != nil && !match(e.value) {
		return nil, KindAny, 0, false
	}

	value, kind, addr := e.value, e.kind, e.addr
	if addr != 0 {
		delete(b.byAddr, addr)
	}
	*e = entry{}
	b.freeList = append(b.freeList, handle)

	return value, kind, addr, true
}

// Close releases all resources.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for i := range b.entries {
		if b.entries[i].valid {
			if d, ok := b.entries[i].value.(Dropper); ok {
				d.Drop()
			}
			b.entries[i] = entry{}
		}
	}

	b.entries = nil
	b.freeList = nil
	b.byAddr = nil
	return nil
}

// Lookup finds the live handle registered for addr.
func (b *LocalBackend) Lookup(addr uintptr) (Handle, bool) {
	if addr == 0 {
		return 0, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.byAddr[addr]
	return h, ok
}

// Addr returns the native address recorded for a handle.
func (b *LocalBackend) Addr(handle Handle) (uintptr, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entry(handle)
	if !ok {
		return 0, false
	}
	return e.addr, true
}

// Pin increments the pin count for a handle.
func (b *LocalBackend) Pin(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entry(handle)
	if !ok {
		return false
	}
	e.pinCount++
	return true
}

// PinIf pins handle only while its value satisfies match, so a caller
// holding a stale handle cannot pin a reused slot.
func (b *LocalBackend) PinIf(handle Handle, match func(any) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entry(handle)
	if !ok || !match(e.value) {
		return false
	}
	e.pinCount++
	return true
}

// Unpin decrements the pin count for a handle.
func (b *LocalBackend) Unpin(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entry(handle)
	if !ok || e.pinCount == 0 {
		return false
	}
	e.pinCount--
	return true
}

// Pinned reports whether a handle has outstanding pins.
func (b *LocalBackend) Pinned(handle Handle) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entry(handle)
	return ok && e.pinCount > 0
}

// KindOf returns the kind for a handle.
func (b *LocalBackend) KindOf(handle Handle) (Kind, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entry(handle)
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// Len returns the number of active resources.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, e := range b.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over all active resources.
func (b *LocalBackend) Each(fn func(Handle, Kind, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(Handle(i+1), e.kind, e.value) {
				break
			}
		}
	}
}
