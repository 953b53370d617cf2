package resource

import "strconv"

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

func (h Handle) String() string { return strconv.FormatUint(uint64(h), 10) }

// Kind tags what a handle refers to.
type Kind uint8

const (
	KindAny Kind = iota
	KindTrampoline
	KindLibrary
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindTrampoline:
		return "trampoline"
	case KindLibrary:
		return "library"
	case KindExternal:
		return "external"
	default:
		return "any"
	}
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventPinned
	EventUnpinned
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventPinned:
		return "pinned"
	case EventUnpinned:
		return "unpinned"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Addr   uintptr
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage mechanism for resources.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(kind Kind, addr uintptr, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Drop removes a resource and returns (value, true) if destructor should be called.
	// Returns (nil, false) if handle is invalid or pinned.
	Drop(handle Handle) (any, bool)

	// Close releases all resources held by the backend.
	Close() error
}

// NativeBackend extends Backend with the native address index and pinning
// used while native code is executing through a resource.
type NativeBackend interface {
	Backend

	// Lookup finds the handle whose native address is addr.
	Lookup(addr uintptr) (Handle, bool)

	// Addr returns the native address recorded for a handle.
	Addr(handle Handle) (uintptr, bool)

	// Pin increments the pin count; a pinned handle cannot be dropped.
	Pin(handle Handle) bool

	// Unpin decrements the pin count.
	Unpin(handle Handle) bool
}

// Table manages resources with kind information and observer support.
type Table interface {
	Insert(kind Kind, addr uintptr, value any) Handle
	Get(handle Handle) (any, bool)
	GetKind(handle Handle, kind Kind) (any, bool)
	Remove(handle Handle) (any, bool)
	Subscribe(Observer)
	Unsubscribe(Observer)
	Len() int
	Clear()
	Close() error
}

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}
