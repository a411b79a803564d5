package texsync

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/texsync/memory"
)

// handle tracks one granularity unit of a storage: a (layer, level)
// subresource, a whole layer, a whole level or the entire storage.
//
// Fields other than modified and overlaps are only accessed from the
// orchestrating goroutine.
type handle struct {
	group      *Group
	generation uint64
	index      int

	offset    int
	size      int
	baseLayer int
	baseLevel int

	regions []memory.RegionHandle

	// modified is set when the GPU wrote the unit and cleared by a flush.
	modified atomic.Bool

	// deferredCopy is the handle this one must copy from before its next use.
	deferredCopy *handle
	dependencies []*handle
	bindCount    int

	overlapsMu sync.Mutex
	overlaps   []Texture
}

func (h *handle) overlapsWith(offset, size int) bool {
	return h.offset < offset+size && offset < h.offset+h.size
}

// dirty reports whether any region was written by the guest.
func (h *handle) dirty() bool {
	for _, r := range h.regions {
		if r.Dirty() {
			return true
		}
	}
	return false
}

func (h *handle) unmapped() bool {
	for _, r := range h.regions {
		if r.Unmapped() {
			return true
		}
	}
	return false
}

// recalculateOverlaps records the views whose bytes intersect the handle.
func (h *handle) recalculateOverlaps(g *Group, views []Texture) {
	var overlaps []Texture
	for _, v := range views {
		if h.overlapsWith(g.FindOffset(v), int(v.Size())) {
			overlaps = append(overlaps, v)
		}
	}

	h.overlapsMu.Lock()
	h.overlaps = overlaps
	h.overlapsMu.Unlock()
}

func (h *handle) overlapSnapshot() []Texture {
	h.overlapsMu.Lock()
	defer h.overlapsMu.Unlock()
	return slices.Clone(h.overlaps)
}

// signalDirty flags the storage and every overlapping view for
// synchronization.
func (h *handle) signalDirty() {
	h.group.storage.SignalGroupDirty()
	for _, v := range h.overlapSnapshot() {
		v.SignalGroupDirty()
	}
}

// signalModified marks the unit as written by the GPU. Dependent handles
// now need to copy from it.
func (h *handle) signalModified() {
	h.modified.Store(true)

	for _, dep := range h.dependencies {
		dep.deferCopy(h)
	}
}

// signalModifying is signalModified for a texture bound as a render
// target. While bound, copies taken from this handle stay pending.
func (h *handle) signalModifying(bound bool) {
	if bound {
		h.bindCount++
	} else if h.bindCount > 0 {
		h.bindCount--
	}

	h.signalModified()
}

// deferCopy makes the next synchronization of h copy from src.
func (h *handle) deferCopy(src *handle) {
	h.deferredCopy = src
	h.signalDirty()
}

func (h *handle) needsCopy() bool {
	return h.deferredCopy != nil
}

// copy resolves a pending copy dependency. It reports whether the copy
// was performed.
//
// A source that is itself pending keeps the request pending. A source
// with guest writes drops the request: guest memory is newer and the
// destination loads it instead. A copy from a still bound source stays
// pending so it is repeated on the next use.
func (h *handle) copy() bool {
	src := h.deferredCopy
	if src == nil || src.deferredCopy != nil {
		return false
	}
	if src.dirty() {
		h.deferredCopy = nil
		return false
	}

	src.group.storage.CopyTo(h.group.storage, src.baseLayer, h.baseLayer, src.baseLevel, h.baseLevel)

	h.modified.Store(true)
	for _, r := range h.regions {
		r.Reprotect(false)
	}
	h.group.registerAction(h)

	if src.bindCount == 0 {
		h.deferredCopy = nil
	}

	h.group.log().Debug("texsync: copy dependency resolved",
		"srcLayer", src.baseLayer, "srcLevel", src.baseLevel,
		"dstLayer", h.baseLayer, "dstLevel", h.baseLevel)
	return true
}

// createCopyDependency links h and other in both directions.
func (h *handle) createCopyDependency(other *handle) {
	if !slices.Contains(h.dependencies, other) {
		h.dependencies = append(h.dependencies, other)
	}
	if !slices.Contains(other.dependencies, h) {
		other.dependencies = append(other.dependencies, h)
	}
}

// inherit takes over the state of an old handle overlapping h. Flags are
// combined and never dropped.
func (h *handle) inherit(old *handle) {
	if old.modified.Load() {
		h.modified.Store(true)
	}
	h.bindCount = max(h.bindCount, old.bindCount)

	if h.deferredCopy == nil && old.deferredCopy != nil && old.deferredCopy != old {
		h.deferredCopy = old.deferredCopy
	}

	for _, dep := range old.dependencies {
		if dep == h {
			continue
		}
		h.createCopyDependency(dep)
		if dep.deferredCopy == old {
			dep.deferredCopy = h
		}
	}
}

// unlink removes h from the dependency graph.
func (h *handle) unlink() {
	for _, dep := range h.dependencies {
		dep.dependencies = slices.DeleteFunc(dep.dependencies, func(d *handle) bool { return d == h })
		if dep.deferredCopy == h {
			dep.deferredCopy = nil
		}
	}
	h.dependencies = nil
	h.deferredCopy = nil
}

// dispose releases the regions and leaves the dependency graph.
func (h *handle) dispose() {
	for _, r := range h.regions {
		r.Dispose()
	}
	h.unlink()

	h.overlapsMu.Lock()
	h.overlaps = nil
	h.overlapsMu.Unlock()
}
