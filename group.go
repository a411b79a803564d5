package texsync

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/gogpu/texsync/memory"
)

// handleArray is one published generation of tracking handles.
type handleArray struct {
	generation uint64
	handles    []*handle
}

// Group tracks guest memory coherency for a storage texture and all of
// its views.
//
// All methods except the dirty and flush callbacks it registers on region
// handles must be called from one goroutine.
type Group struct {
	storage Storage
	mem     memory.Provider
	logger  *slog.Logger

	info Info
	addr addressing

	allOffsets []int
	gran       granularity
	views      []Texture

	// current is read by callbacks on guest goroutines.
	current    atomic.Pointer[handleArray]
	generation uint64
	loadNeeded []bool

	hasCopyDependencies bool
	disposed            bool
}

// NewGroup creates a group for storage, tracking memory through mem.
// The group has no handles until Initialize is called.
func NewGroup(storage Storage, mem memory.Provider, opts ...GroupOption) *Group {
	o := defaultGroupOptions()
	for _, opt := range opts {
		opt(&o)
	}

	info := storage.Info()
	return &Group{
		storage: storage,
		mem:     mem,
		logger:  o.logger,
		info:    info,
		addr:    newAddressing(info),
	}
}

func (g *Group) log() *slog.Logger {
	if g.logger != nil {
		return g.logger
	}
	return Logger()
}

// Storage returns the storage texture of the group.
func (g *Group) Storage() Storage {
	return g.storage
}

// HasCopyDependencies reports whether any handle of the group takes part
// in a copy dependency.
func (g *Group) HasCopyDependencies() bool {
	return g.hasCopyDependencies
}

// Granularity returns the subdivision flags.
func (g *Group) Granularity() (layers, mips bool) {
	return g.gran.layers, g.gran.mips
}

// Initialize sets the storage layout and builds the initial handles.
// Every region starts clean.
func (g *Group) Initialize(size SizeInfo, hasLayerViews, hasMipViews bool) error {
	if g.disposed {
		return ErrDisposed
	}
	if err := g.info.Validate(); err != nil {
		return err
	}
	if err := size.Validate(g.info); err != nil {
		return err
	}
	if uint64(size.TotalSize) > g.storage.Size() {
		return fmt.Errorf("%w: layout needs %d bytes, storage has %d",
			ErrInvalidLayout, size.TotalSize, g.storage.Size())
	}

	g.allOffsets = size.AllOffsets
	g.gran = g.addr.propagate(granularity{layers: hasLayerViews, mips: hasMipViews})

	g.rebuild()

	g.log().Info("texsync: group initialized",
		"slices", g.info.Slices(), "levels", g.info.Levels, "is3D", g.info.Is3D(),
		"handles", g.HandleCount())
	return nil
}

// handles returns the published handle array.
func (g *Group) handles() []*handle {
	if arr := g.current.Load(); arr != nil {
		return arr.handles
	}
	return nil
}

// HandleCount returns the number of tracking handles.
func (g *Group) HandleCount() int {
	return len(g.handles())
}

// relevantRuns yields the handle runs overlapped by tex.
func (g *Group) relevantRuns(tex Texture) iter.Seq[handleRun] {
	if Texture(g.storage) == tex || !g.gran.subdivided() {
		n := g.HandleCount()
		return func(yield func(handleRun) bool) {
			if n > 0 {
				yield(handleRun{base: 0, count: n})
			}
		}
	}
	return g.addr.runs(tex.FirstLayer(), tex.FirstLevel(), tex.Info().Slices(), tex.Info().Levels, g.gran)
}

// CheckDirty reports whether guest memory overlapped by tex was written
// since the last synchronization. With consume set the dirty regions are
// re-armed. No data is moved.
func (g *Group) CheckDirty(tex Texture, consume bool) bool {
	handles := g.handles()
	if handles == nil {
		return false
	}
	dirty := false

	for run := range g.relevantRuns(tex) {
		for _, h := range handles[run.base : run.base+run.count] {
			for _, r := range h.regions {
				if r.Dirty() {
					if consume {
						r.Reprotect(false)
					}
					dirty = true
				}
			}
		}
	}

	return dirty
}

// SynchronizeMemory loads guest writes overlapped by tex into the
// storage. Runs with a single dirty unit among clean ones, unmapped
// memory or disjoint runs are loaded per subresource; otherwise tex
// reloads in full.
func (g *Group) SynchronizeMemory(tex Texture) {
	handles := g.handles()
	if handles == nil {
		return
	}

	for run := range g.relevantRuns(tex) {
		dirty := false
		anyModified := false
		anyUnmapped := false

		for i := run.base; i < run.base+run.count; i++ {
			h := handles[i]

			modified := h.modified.Load()
			handleDirty := false
			handleModified := false
			handleUnmapped := false

			for _, r := range h.regions {
				if r.Dirty() {
					r.Reprotect(false)
					handleDirty = true
				} else {
					handleUnmapped = handleUnmapped || r.Unmapped()
					handleModified = handleModified || modified
				}
			}

			// A pending copy wins over the unit's own dirty state; a copy
			// source with pending guest writes leaves the unit to load.
			if h.needsCopy() && h.copy() {
				anyModified = true
				handleDirty = false
			} else {
				anyModified = anyModified || handleModified
				dirty = dirty || handleDirty
			}

			anyUnmapped = anyUnmapped || handleUnmapped

			if h.needsCopy() {
				// The source is still being written. Copy again on next use.
				tex.SignalGroupDirty()
				if Texture(g.storage) != tex {
					g.storage.SignalGroupDirty()
				}
			}

			g.loadNeeded[i] = handleDirty && !handleUnmapped
		}

		if !dirty {
			continue
		}

		if anyUnmapped || (len(handles) > 1 && (anyModified || run.split)) {
			g.log().Debug("texsync: partial synchronization",
				"base", run.base, "count", run.count,
				"unmapped", anyUnmapped, "modified", anyModified, "split", run.split)
			g.synchronizePartial(run.base, run.count)
		} else {
			g.log().Debug("texsync: full synchronization", "base", run.base, "count", run.count)
			tex.SynchronizeFull()
		}
	}
}

// synchronizePartial uploads each subresource of the load-needed handles
// in [base, base+count).
func (g *Group) synchronizePartial(base, count int) {
	for i := base; i < base+count; i++ {
		if !g.loadNeeded[i] {
			continue
		}

		info := g.addr.handleInfo(i, g.gran)
		for level := info.baseLevel; level < info.baseLevel+info.levels; level++ {
			layers := min(info.layers, g.info.LevelDepth(level)-info.baseLayer)
			for layer := info.baseLayer; layer < info.baseLayer+layers; layer++ {
				index := g.addr.offsetIndex(layer, level)
				offset, size := g.subresourceSpan(index)

				data := g.mem.GetSpan(g.storage.Range().Slice(uint64(offset), uint64(size)))
				data = g.storage.ConvertToHostCompatibleFormat(data, level)
				g.storage.SetData(data, layer, level)
			}
		}
	}
}

// subresourceSpan returns the byte span of an offset index.
func (g *Group) subresourceSpan(index int) (offset, size int) {
	offset = g.allOffsets[index]
	end := int(g.storage.Size())
	if index+1 < len(g.allOffsets) {
		end = g.allOffsets[index+1]
	}
	return offset, end - offset
}

// SignalModified records a GPU write to tex. With registerFlush set, a
// guest access to the affected memory first flushes the GPU data back.
func (g *Group) SignalModified(tex Texture, registerFlush bool) {
	handles := g.handles()
	if handles == nil {
		return
	}
	for run := range g.relevantRuns(tex) {
		for _, h := range handles[run.base : run.base+run.count] {
			h.signalModified()
			if registerFlush {
				g.registerAction(h)
			}
		}
	}
}

// SignalModifying records that tex is bound as a render target (bound) or
// was unbound.
func (g *Group) SignalModifying(tex Texture, bound, registerFlush bool) {
	handles := g.handles()
	if handles == nil {
		return
	}
	for run := range g.relevantRuns(tex) {
		for _, h := range handles[run.base : run.base+run.count] {
			h.signalModifying(bound)
			if registerFlush {
				g.registerAction(h)
			}
		}
	}
}

// registerAction arms the flush action on every region of h.
func (g *Group) registerAction(h *handle) {
	for _, r := range h.regions {
		r.RegisterAction(g.flushAction(h.generation, h.index))
	}
}

// lookup returns the handle with the given identity, or nil when the
// array it belonged to was replaced.
func (g *Group) lookup(generation uint64, index int) *handle {
	arr := g.current.Load()
	if arr == nil || arr.generation != generation || index >= len(arr.handles) {
		return nil
	}
	return arr.handles[index]
}

// dirtyAction is registered on every region. It runs on the guest
// goroutine that wrote the memory.
func (g *Group) dirtyAction(generation uint64, index int) func() {
	return func() {
		g.storage.SignalGroupDirty()

		h := g.lookup(generation, index)
		if h == nil {
			return
		}
		for _, v := range h.overlapSnapshot() {
			v.SignalGroupDirty()
		}
	}
}

// flushAction runs when the guest accesses memory of a GPU-modified
// handle. It returns once the storage and every overlapping view have
// written their data back.
func (g *Group) flushAction(generation uint64, index int) func(address, size uint64) {
	return func(address, size uint64) {
		g.storage.ExternalFlush(address, size)

		h := g.lookup(generation, index)
		if h == nil {
			return
		}
		for _, v := range h.overlapSnapshot() {
			v.ExternalFlush(address, size)
		}
		h.modified.Store(false)
	}
}

// UpdateViews replaces the view list, subdividing the handles when a view
// covers fewer layers or levels than the storage. Every texture of the
// group is flagged for synchronization afterwards. A disposed group
// ignores the call.
func (g *Group) UpdateViews(views []Texture) {
	if g.disposed {
		return
	}
	g.views = slices.Clone(views)

	gran := g.gran
	rebuilt := false

	if !gran.full() {
		for _, v := range views {
			vi := v.Info()
			if vi.Slices() < g.info.LevelDepth(v.FirstLevel()) {
				gran.layers = true
			}
			if vi.Levels < g.info.Levels {
				gran.mips = true
			}
		}
		gran = g.addr.propagate(gran)

		if gran != g.gran {
			g.gran = gran
			g.rebuild()
			rebuilt = true
		}
	}

	if !rebuilt {
		for _, h := range g.handles() {
			h.recalculateOverlaps(g, g.views)
		}
	}

	g.storage.SignalGroupDirty()
	for _, v := range views {
		v.SignalGroupDirty()
	}
}

// Inherit takes over the tracking state of other, typically a group being
// absorbed into this one. Granularity becomes the union of both groups.
func (g *Group) Inherit(other *Group) {
	if g.disposed {
		return
	}
	gran := granularity{
		layers: g.gran.layers || other.gran.layers,
		mips:   g.gran.mips || other.gran.mips,
	}
	if gran != g.gran {
		g.gran = g.addr.propagate(gran)
		g.rebuild()
	}

	g.inheritHandles(other.handles(), g.handles())
	g.hasCopyDependencies = g.hasCopyDependencies || other.hasCopyDependencies
}

// ensureFullSubdivision gives every (layer, level) its own handle.
func (g *Group) ensureFullSubdivision() {
	if !g.gran.full() {
		g.gran = granularity{layers: true, mips: true}
		g.rebuild()
	}
}

// CreateCopyDependency links the handles of other with the handles of
// this group at (firstLayer, firstLevel). With copyTo set this group's
// data is copied into other, otherwise other's data is copied here. The
// destination handles are primed with a pending copy from their sources.
func (g *Group) CreateCopyDependency(other Texture, firstLayer, firstLevel int, copyTo bool) {
	og := other.Group()
	if g.disposed || og.disposed {
		return
	}

	g.ensureFullSubdivision()
	og.ensureFullSubdivision()

	oi := other.Info()
	targets := slices.Collect(g.addr.runs(firstLayer, firstLevel, oi.Slices(), oi.Levels, g.gran))
	sources := slices.Collect(og.relevantRuns(other))

	handles := g.handles()
	otherHandles := og.handles()

	var target, source handleRun
	ti, si, pairs := 0, 0, 0
	for {
		if target.count == 0 {
			if ti >= len(targets) {
				break
			}
			target = targets[ti]
			ti++
		}
		if source.count == 0 {
			if si >= len(sources) {
				break
			}
			source = sources[si]
			si++
		}

		h := handles[target.base]
		oh := otherHandles[source.base]
		target.base++
		target.count--
		source.base++
		source.count--

		h.createCopyDependency(oh)
		if copyTo {
			oh.deferCopy(h)
		} else {
			h.deferCopy(oh)
		}
		pairs++
	}

	if target.count != 0 || source.count != 0 || ti != len(targets) || si != len(sources) {
		panic(fmt.Sprintf("texsync: copy dependency handle mismatch after %d pairs", pairs))
	}

	g.hasCopyDependencies = true
	og.hasCopyDependencies = true

	g.log().Debug("texsync: copy dependency created",
		"firstLayer", firstLayer, "firstLevel", firstLevel, "copyTo", copyTo, "pairs", pairs)
}

// FindOffset returns the byte offset of tex within the storage.
func (g *Group) FindOffset(tex Texture) int {
	return g.allOffsets[g.GetOffsetIndex(tex.FirstLayer(), tex.FirstLevel())]
}

// GetOffsetIndex returns the index of (layer, level) in the offset table.
func (g *Group) GetOffsetIndex(layer, level int) int {
	return g.addr.offsetIndex(layer, level)
}

// Dispose releases every handle. Callbacks that fire afterwards only
// signal the storage.
func (g *Group) Dispose() {
	if g.disposed {
		return
	}
	g.disposed = true

	old := g.current.Swap(nil)
	if old != nil {
		for _, h := range old.handles {
			h.dispose()
		}
	}

	g.log().Info("texsync: group disposed")
}

// HandleSpan is a snapshot of one tracking handle.
type HandleSpan struct {
	Offset    int
	Size      int
	BaseLayer int
	BaseLevel int
	Regions   int
	Dirty     bool
	Unmapped  bool
	Modified  bool
	NeedsCopy bool
}

// HandleSpans returns a snapshot of every handle in order.
func (g *Group) HandleSpans() []HandleSpan {
	handles := g.handles()
	spans := make([]HandleSpan, len(handles))
	for i, h := range handles {
		spans[i] = HandleSpan{
			Offset:    h.offset,
			Size:      h.size,
			BaseLayer: h.baseLayer,
			BaseLevel: h.baseLevel,
			Regions:   len(h.regions),
			Dirty:     h.dirty(),
			Unmapped:  h.unmapped(),
			Modified:  h.modified.Load(),
			NeedsCopy: h.needsCopy(),
		}
	}
	return spans
}
