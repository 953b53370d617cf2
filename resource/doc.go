// Package resource maps integer handles to host-side objects that native
// code only knows by address.
//
// Trampolines, loaded libraries and external pointers are registered with
// their native address so a raw address coming back from a native call can
// be resolved to the Go object behind it:
//
//	table := resource.NewTable()
//	h := table.Insert(resource.KindTrampoline, codePtr, tramp)
//
//	h, ok := table.Lookup(codePtr)
//	v, ok := table.GetKind(h, resource.KindTrampoline)
//
// # Pinning
//
// A handle that native code is currently executing through is pinned.
// Remove refuses pinned handles, so a trampoline cannot be freed while one
// of its callbacks is running:
//
//	table.Pin(h)
//	defer table.Unpin(h)
//
// # Observers
//
// Observers receive EventCreated, EventDropped, EventPinned and
// EventUnpinned notifications.
//
// # Memory Management
//
// Values implementing Dropper are dropped when removed and when the table
// is closed. Nothing is reclaimed automatically otherwise.
package resource
