package resource

import (
	"sync"
)

// UnifiedTable implements the Table interface using a LocalBackend for storage.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new unified table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value and returns its handle, or 0 when the table is
// closed or addr is already registered.
func (t *UnifiedTable) Insert(kind Kind, addr uintptr, value any) Handle {
	h, _ := t.InsertErr(kind, addr, value)
	return h
}

// InsertErr is Insert reporting why the value was refused.
func (t *UnifiedTable) InsertErr(kind Kind, addr uintptr, value any) (Handle, error) {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0, ErrClosed
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(kind, addr, value)
	if err != nil {
		return 0, err
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Kind:   kind,
		Addr:   addr,
		Value:  value,
	})

	return handle, nil
}

// Get retrieves a value by handle.
func (t *UnifiedTable) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetKind retrieves a value only if it has the expected kind.
// KindAny matches every handle.
func (t *UnifiedTable) GetKind(handle Handle, kind Kind) (any, bool) {
	actual, ok := t.backend.KindOf(handle)
	if !ok || (kind != KindAny && actual != kind) {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Lookup resolves a native address to the handle registered for it.
func (t *UnifiedTable) Lookup(addr uintptr) (Handle, bool) {
	return t.backend.Lookup(addr)
}

// Remove drops a resource and returns (value, true) if found and not pinned.
func (t *UnifiedTable) Remove(handle Handle) (any, bool) {
	return t.RemoveIf(handle, nil)
}

// RemoveIf is Remove for a handle whose value still satisfies match.
func (t *UnifiedTable) RemoveIf(handle Handle, match func(any) bool) (any, bool) {
	value, kind, addr, ok := t.backend.DropIf(handle, match)
	if !ok {
		return nil, false
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Kind:   kind,
		Addr:   addr,
		Value:  value,
	})

	return value, true
}

// Pin keeps a handle alive while native code runs through it.
func (t *UnifiedTable) Pin(handle Handle) bool {
	if !t.backend.Pin(handle) {
		return false
	}
	t.notify(Event{Type: EventPinned, Handle: handle})
	return true
}

// PinIf pins handle only if its value still satisfies match.
func (t *UnifiedTable) PinIf(handle Handle, match func(any) bool) bool {
	if !t.backend.PinIf(handle, match) {
		return false
	}
	t.notify(Event{Type: EventPinned, Handle: handle})
	return true
}

func (t *UnifiedTable) Unpin(handle Handle) bool {
	if !t.backend.Unpin(handle) {
		return false
	}
	t.notify(Event{Type: EventUnpinned, Handle: handle})
	return true
}

// Subscribe adds an observer for lifecycle events.
func (t *UnifiedTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *UnifiedTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of active resources.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Each iterates over live resources of kind (KindAny for all).
func (t *UnifiedTable) Each(kind Kind, fn func(Handle, any) bool) {
	t.backend.Each(func(h Handle, k Kind, v any) bool {
		if kind != KindAny && k != kind {
			return true
		}
		return fn(h, v)
	})
}

// Clear drops all unpinned resources.
func (t *UnifiedTable) Clear() {
	// Collect handles first to avoid holding lock during Remove
	var handles []Handle
	t.backend.Each(func(h Handle, _ Kind, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all resources and stops accepting operations.
func (t *UnifiedTable) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	return t.backend.Close()
}

// Backend returns the underlying backend.
func (t *UnifiedTable) Backend() NativeBackend {
	return t.backend
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
