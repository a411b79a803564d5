package memory

import (
	"sync"
	"sync/atomic"
)

// regionHandle is the RegionHandle created by PhysicalMemory.
type regionHandle struct {
	mem     *PhysicalMemory
	address uint64
	size    uint64

	dirty    atomic.Bool
	unmapped atomic.Bool
	disposed atomic.Bool

	// mu protects dirtyEvents and action.
	mu          sync.Mutex
	dirtyEvents []func()
	action      func(address, size uint64)
}

func (h *regionHandle) Address() uint64 { return h.address }
func (h *regionHandle) Size() uint64    { return h.size }
func (h *regionHandle) Dirty() bool     { return h.dirty.Load() }
func (h *regionHandle) Unmapped() bool  { return h.unmapped.Load() }

// Reprotect implements RegionHandle.
func (h *regionHandle) Reprotect(asDirty bool) {
	h.dirty.Store(asDirty)
}

// RegisterDirtyEvent implements RegionHandle.
func (h *regionHandle) RegisterDirtyEvent(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.dirtyEvents = append(h.dirtyEvents, fn)
	h.mu.Unlock()
}

// RegisterAction implements RegionHandle. Registering on an unmapped handle
// is ignored; a later registration replaces a pending one.
func (h *regionHandle) RegisterAction(fn func(address, size uint64)) {
	if h.unmapped.Load() || h.disposed.Load() {
		return
	}
	h.mu.Lock()
	h.action = fn
	h.mu.Unlock()
}

// OverlapsWith implements RegionHandle.
func (h *regionHandle) OverlapsWith(address, size uint64) bool {
	return h.address < address+size && address < h.address+h.size
}

// Dispose implements RegionHandle.
func (h *regionHandle) Dispose() {
	if !h.disposed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	h.dirtyEvents = nil
	h.action = nil
	h.mu.Unlock()

	h.mem.unregister(h)
}

// takeAction removes and returns the pending action, if any.
func (h *regionHandle) takeAction() func(address, size uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	action := h.action
	h.action = nil
	return action
}

// markDirty sets the dirty flag. On a clean to dirty transition the dirty
// events run on the calling goroutine, outside the handle lock.
func (h *regionHandle) markDirty() {
	if h.disposed.Load() || !h.dirty.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	events := make([]func(), len(h.dirtyEvents))
	copy(events, h.dirtyEvents)
	h.mu.Unlock()

	for _, fn := range events {
		fn()
	}
}
