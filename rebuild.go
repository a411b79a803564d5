package texsync

import "github.com/gogpu/texsync/memory"

// rebuild replaces the handle array with one matching the current
// granularity. New regions start clean and take over the state of the old
// handles they overlap. The new array is published before any old region
// is disposed.
func (g *Group) rebuild() {
	g.generation++
	gen := g.generation

	var handles []*handle
	if !g.gran.subdivided() {
		handles = []*handle{g.newHandle(gen, 0, 0, int(g.storage.Size()), 0, 0)}
	} else {
		for span := range g.addr.partition(g.gran) {
			handles = append(handles, g.generateHandle(gen, len(handles), span))
		}
	}

	for _, h := range handles {
		for _, r := range h.regions {
			r.Reprotect(false)
		}
	}

	old := g.current.Load()
	if old != nil {
		g.inheritHandles(old.handles, handles)
	}

	for _, h := range handles {
		h.recalculateOverlaps(g, g.views)
	}

	g.current.Store(&handleArray{generation: gen, handles: handles})
	g.loadNeeded = make([]bool, len(handles))

	if old != nil {
		for _, h := range old.handles {
			h.dispose()
		}
	}

	g.log().Debug("texsync: handles rebuilt",
		"generation", gen, "handles", len(handles),
		"layerViews", g.gran.layers, "mipViews", g.gran.mips)
}

// generateHandle creates the handle covering an offset index span.
func (g *Group) generateHandle(gen uint64, index int, span handleSpan) *handle {
	offset := g.allOffsets[span.viewStart]
	end := int(g.storage.Size())
	if span.viewStart+span.views < len(g.allOffsets) {
		end = g.allOffsets[span.viewStart+span.views]
	}

	layer, level := g.addr.layerLevel(span.viewStart)

	return g.newHandle(gen, index, offset, end-offset, layer, level)
}

// newHandle creates a handle over [offset, offset+size) of the storage
// with one region per mapped sub-range the span touches.
func (g *Group) newHandle(gen uint64, index, offset, size, layer, level int) *handle {
	h := &handle{
		group:      g,
		generation: gen,
		index:      index,
		offset:     offset,
		size:       size,
		baseLayer:  layer,
		baseLevel:  level,
	}

	for _, r := range g.storage.Range().Slice(uint64(offset), uint64(size)).Ranges() {
		if r.IsUnmapped() {
			continue
		}
		h.regions = append(h.regions, g.mem.BeginTracking(r.Address, r.Size))
	}

	for _, r := range h.regions {
		r.RegisterDirtyEvent(g.dirtyAction(gen, index))
	}

	return h
}

// inheritHandles moves state from old handles to the new handles they
// overlap by byte range. Dirty regions stay dirty and modified handles
// keep their flush actions.
func (g *Group) inheritHandles(old, handles []*handle) {
	for _, h := range handles {
		var overlapping []*handle
		for _, oh := range old {
			if h.overlapsWith(oh.offset, oh.size) {
				overlapping = append(overlapping, oh)
				h.inherit(oh)
			}
		}

		for _, r := range h.regions {
			if !r.Dirty() && anyDirtyOverlap(r, overlapping) {
				r.Reprotect(true)
			}
		}

		if h.modified.Load() {
			g.registerAction(h)
		}
	}
}

func anyDirtyOverlap(r memory.RegionHandle, old []*handle) bool {
	for _, oh := range old {
		for _, or := range oh.regions {
			if or.Dirty() && r.OverlapsWith(or.Address(), or.Size()) {
				return true
			}
		}
	}
	return false
}
