package texsync

import "iter"

// granularity records which kinds of views subdivide the tracking.
// Both flags only ever go from false to true.
type granularity struct {
	layers bool
	mips   bool
}

func (g granularity) subdivided() bool { return g.layers || g.mips }
func (g granularity) full() bool       { return g.layers && g.mips }

// handleRun is a contiguous run of handle indices. split is set when the
// run is one of several disjoint runs covering the same texture.
type handleRun struct {
	base  int
	count int
	split bool
}

// handleInfo locates a handle within the storage.
type handleInfo struct {
	baseLayer, baseLevel int
	layers, levels       int
	offsetIndex          int
}

// handleSpan is the range of offset indices a handle covers.
type handleSpan struct {
	viewStart int
	views     int
}

// addressing maps (layer, level) coordinates to offset and handle indices.
// One implementation exists per storage layout and is chosen once when
// the group is created.
type addressing interface {
	// propagate applies the dimension coupling between the flags.
	propagate(g granularity) granularity

	// runs yields the handle runs a texture at the given position overlaps.
	// The group must be subdivided.
	runs(firstLayer, firstLevel, slices, levels int, g granularity) iter.Seq[handleRun]

	offsetIndex(layer, level int) int
	layerLevel(offsetIndex int) (layer, level int)
	handleInfo(index int, g granularity) handleInfo

	// partition yields the offset index span of every handle, in handle order.
	// The group must be subdivided.
	partition(g granularity) iter.Seq[handleSpan]
}

func newAddressing(info Info) addressing {
	if info.Is3D() {
		return volumeAddressing{depth: info.Slices(), levels: info.Levels}
	}
	return arrayAddressing{layers: info.Slices(), levels: info.Levels}
}

// arrayAddressing covers 1D, 2D and array textures. All levels of a layer
// are contiguous, so the handle index of (layer, level) is
// level + layer*levels when fully subdivided.
type arrayAddressing struct {
	layers int
	levels int
}

func (a arrayAddressing) propagate(g granularity) granularity {
	g.layers = g.layers || g.mips
	return g
}

func (a arrayAddressing) runs(firstLayer, firstLevel, slices, levels int, g granularity) iter.Seq[handleRun] {
	return func(yield func(handleRun) bool) {
		layerCount, levelCount, levelHandles := 1, 1, 1
		if g.layers {
			layerCount = slices
		} else {
			firstLayer = 0
		}
		if g.mips {
			levelCount = levels
			levelHandles = a.levels
		} else {
			firstLevel = 0
		}

		if g.mips && slices > 1 && levels < a.levels {
			// A mip slice of several layers: one run per layer.
			for i := range slices {
				if !yield(handleRun{base: firstLevel + (firstLayer+i)*levelHandles, count: levelCount, split: true}) {
					return
				}
			}
			return
		}

		yield(handleRun{
			base:  firstLevel + firstLayer*levelHandles,
			count: levelCount + (layerCount-1)*levelHandles,
		})
	}
}

func (a arrayAddressing) offsetIndex(layer, level int) int {
	return level + layer*a.levels
}

func (a arrayAddressing) layerLevel(offsetIndex int) (layer, level int) {
	return offsetIndex / a.levels, offsetIndex % a.levels
}

func (a arrayAddressing) handleInfo(index int, g granularity) handleInfo {
	info := handleInfo{layers: a.layers, levels: a.levels}
	if g.layers {
		info.layers = 1
	}
	if g.mips {
		info.levels = 1
		info.baseLevel = index % a.levels
		info.baseLayer = index / a.levels
	} else {
		info.baseLayer = index
	}
	info.offsetIndex = a.offsetIndex(info.baseLayer, info.baseLevel)
	return info
}

func (a arrayAddressing) partition(g granularity) iter.Seq[handleSpan] {
	return func(yield func(handleSpan) bool) {
		layerHandles, levelHandles, views := 1, 1, a.levels
		if g.layers {
			layerHandles = a.layers
		}
		if g.mips {
			levelHandles = a.levels
			views = 1
		}
		for layer := range layerHandles {
			for level := range levelHandles {
				if !yield(handleSpan{viewStart: a.offsetIndex(layer, level), views: views}) {
					return
				}
			}
		}
	}
}

// volumeAddressing covers 3D textures. All depth slices of a level are
// contiguous and the depth halves at each level, so the handles of level m
// start after the depths of all previous levels.
type volumeAddressing struct {
	depth  int
	levels int
}

func (a volumeAddressing) propagate(g granularity) granularity {
	g.mips = g.mips || g.layers
	return g
}

// levelRange returns the first offset index of a level and its depth.
func (a volumeAddressing) levelRange(level int) (index, depth int) {
	depth = a.depth
	for range level {
		index += depth
		depth = max(depth>>1, 1)
	}
	return index, depth
}

func (a volumeAddressing) runs(firstLayer, firstLevel, slices, levels int, g granularity) iter.Seq[handleRun] {
	return func(yield func(handleRun) bool) {
		if !g.layers {
			// One handle per level.
			count := 1
			if g.mips {
				count = levels
			}
			yield(handleRun{base: firstLevel, count: count})
			return
		}

		levelIndex, depth := a.levelRange(firstLevel)

		if levels > 1 && slices < depth {
			// A depth slice across several levels: one run per level,
			// with the slice offset and count halving with the depth.
			for k := range levels {
				if firstLevel+k >= a.levels {
					return
				}
				first := min(firstLayer>>k, depth-1)
				count := min(max(slices>>k, 1), depth-first)
				if !yield(handleRun{base: levelIndex + first, count: count, split: true}) {
					return
				}
				levelIndex += depth
				depth = max(depth>>1, 1)
			}
			return
		}

		total := min(depth, slices)
		for range levels - 1 {
			depth = max(depth>>1, 1)
			total += depth
		}
		yield(handleRun{base: levelIndex + firstLayer, count: total})
	}
}

func (a volumeAddressing) offsetIndex(layer, level int) int {
	index, _ := a.levelRange(level)
	return index + layer
}

func (a volumeAddressing) layerLevel(offsetIndex int) (layer, level int) {
	depth := a.depth
	for offsetIndex >= depth && level < a.levels-1 {
		offsetIndex -= depth
		level++
		depth = max(depth>>1, 1)
	}
	return offsetIndex, level
}

func (a volumeAddressing) handleInfo(index int, g granularity) handleInfo {
	if g.layers {
		// Layer views imply mip views: one handle per slice.
		layer, level := a.layerLevel(index)
		return handleInfo{baseLayer: layer, baseLevel: level, layers: 1, levels: 1, offsetIndex: index}
	}
	if g.mips {
		offset, depth := a.levelRange(index)
		return handleInfo{baseLevel: index, layers: depth, levels: 1, offsetIndex: offset}
	}
	return handleInfo{layers: a.depth, levels: a.levels}
}

func (a volumeAddressing) partition(g granularity) iter.Seq[handleSpan] {
	return func(yield func(handleSpan) bool) {
		levelHandles := 1
		if g.mips {
			levelHandles = a.levels
		}
		for level := range levelHandles {
			start, depth := a.levelRange(level)
			if !g.layers {
				if !yield(handleSpan{viewStart: start, views: depth}) {
					return
				}
				continue
			}
			for slice := range depth {
				if !yield(handleSpan{viewStart: start + slice, views: 1}) {
					return
				}
			}
		}
	}
}
