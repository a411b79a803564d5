package hostgpu

import (
	"fmt"
	"iter"
	"slices"
	"sync/atomic"

	"github.com/gogpu/texsync"
	"github.com/gogpu/texsync/memory"
	"github.com/gogpu/wgpu/hal"
)

// Texture is a storage texture or a view of one. It implements
// texsync.Storage.
type Texture struct {
	dev   *Device
	raw   hal.Texture
	info  texsync.Info
	label string
	size  uint64

	// storage is nil for a storage texture.
	storage    *Texture
	firstLayer int
	firstLevel int

	// Storage only.
	rng    memory.MultiRange
	layout texsync.SizeInfo
	group  *texsync.Group
	views  []*Texture

	groupDirty atomic.Bool
	released   atomic.Bool

	uploads atomic.Int64
	flushes atomic.Int64
}

var _ texsync.Storage = (*Texture)(nil)

// root returns the storage texture t belongs to.
func (t *Texture) root() *Texture {
	if t.storage != nil {
		return t.storage
	}
	return t
}

// Info implements texsync.Texture.
func (t *Texture) Info() texsync.Info { return t.info }

// FirstLayer implements texsync.Texture.
func (t *Texture) FirstLayer() int { return t.firstLayer }

// FirstLevel implements texsync.Texture.
func (t *Texture) FirstLevel() int { return t.firstLevel }

// Size implements texsync.Texture.
func (t *Texture) Size() uint64 { return t.size }

// Group implements texsync.Texture.
func (t *Texture) Group() *texsync.Group { return t.root().group }

// Raw returns the underlying HAL texture, shared by a storage and its views.
func (t *Texture) Raw() hal.Texture { return t.raw }

// IsView reports whether t aliases part of another texture.
func (t *Texture) IsView() bool { return t.storage != nil }

// SignalGroupDirty implements texsync.Texture. It may be called from any
// goroutine.
func (t *Texture) SignalGroupDirty() {
	t.groupDirty.Store(true)
}

// GroupDirty reports whether t has pending synchronization.
func (t *Texture) GroupDirty() bool {
	return t.groupDirty.Load()
}

// Range implements texsync.Storage. For a view it is the part of the
// storage range starting at the view's first subresource.
func (t *Texture) Range() memory.MultiRange {
	if t.storage == nil {
		return t.rng
	}
	s := t.storage
	return s.rng.Slice(uint64(s.group.FindOffset(t)), t.size)
}

// Use prepares t for GPU access, loading guest writes made since the
// last use.
func (t *Texture) Use() {
	if t.released.Load() {
		return
	}
	if t.groupDirty.Swap(false) {
		t.Group().SynchronizeMemory(t)
	}
}

// SignalModified records a GPU write to t. Guest accesses to the memory
// behind t flush the data back first. With bound set t stays bound as a
// render target until Unbind, and copies taken from it are repeated on
// each use of the destination.
func (t *Texture) SignalModified(bound bool) {
	if t.released.Load() {
		return
	}
	if bound {
		t.Group().SignalModifying(t, true, true)
	} else {
		t.Group().SignalModified(t, true)
	}
}

// Unbind ends a binding started by SignalModified(true).
func (t *Texture) Unbind() {
	if t.released.Load() {
		return
	}
	t.Group().SignalModifying(t, false, true)
}

// CheckDirty reports whether guest memory behind t was written since it
// was last used, without loading anything.
func (t *Texture) CheckDirty() bool {
	if t.released.Load() {
		return false
	}
	return t.Group().CheckDirty(t, false)
}

// CreateView creates a view of layers slices and levels levels starting
// at (firstLayer, firstLevel) of t. For 3D textures layers counts depth
// slices at firstLevel.
func (t *Texture) CreateView(firstLayer, firstLevel, layers, levels int) (*Texture, error) {
	if t.released.Load() {
		return nil, ErrDestroyed
	}
	if err := checkWindow(t.info, firstLayer, firstLevel, layers, levels); err != nil {
		return nil, err
	}
	if t.storage == nil {
		return t.createView(firstLayer, firstLevel, layers, levels)
	}

	layer, level := t.absolute(firstLayer, firstLevel)
	return t.storage.createView(layer, level, layers, levels)
}

func checkWindow(info texsync.Info, firstLayer, firstLevel, layers, levels int) error {
	if firstLayer < 0 || firstLevel < 0 || layers < 1 || levels < 1 ||
		firstLevel+levels > info.Levels ||
		firstLayer+layers > info.LevelDepth(firstLevel) {
		return fmt.Errorf("%w: layers [%d,+%d) levels [%d,+%d) of %d slices, %d levels",
			ErrViewOutOfRange, firstLayer, layers, firstLevel, levels, info.Slices(), info.Levels)
	}
	return nil
}

func (t *Texture) createView(firstLayer, firstLevel, layers, levels int) (*Texture, error) {
	info := t.info
	info.Levels = levels
	info.Size.Width = max(info.Size.Width>>firstLevel, 1)
	info.Size.Height = max(info.Size.Height>>firstLevel, 1)
	info.Size.DepthOrArrayLayers = uint32(layers)

	layout, err := texsync.NewSizeInfo(info)
	if err != nil {
		return nil, err
	}

	v := &Texture{
		dev:        t.dev,
		raw:        t.raw,
		info:       info,
		label:      fmt.Sprintf("%s[%d:%d]", t.label, firstLayer, firstLevel),
		size:       uint64(layout.TotalSize),
		storage:    t,
		firstLayer: firstLayer,
		firstLevel: firstLevel,
	}

	t.views = append(t.views, v)
	t.group.UpdateViews(t.viewTextures())

	t.dev.log().Debug("hostgpu: view created", "label", v.label,
		"layers", layers, "levels", levels, "handles", t.group.HandleCount())
	return v, nil
}

// RemoveView detaches v from its storage. The handles keep their
// granularity.
func (t *Texture) RemoveView(v *Texture) {
	s := t.root()
	n := len(s.views)
	s.views = slices.DeleteFunc(s.views, func(x *Texture) bool { return x == v })
	if len(s.views) != n && !s.released.Load() {
		s.group.UpdateViews(s.viewTextures())
	}
}

// Views returns the live views of t's storage.
func (t *Texture) Views() []*Texture {
	return slices.Clone(t.root().views)
}

func (t *Texture) viewTextures() []texsync.Texture {
	out := make([]texsync.Texture, len(t.views))
	for i, v := range t.views {
		out[i] = v
	}
	return out
}

// CreateCopyDependency links t with other so that GPU writes to one are
// copied into the other when it is next used. firstLayer and firstLevel
// place other within t's storage. With copyTo set t's current data is
// copied into other first, otherwise other's data is copied into t.
func (t *Texture) CreateCopyDependency(other *Texture, firstLayer, firstLevel int, copyTo bool) error {
	if t.released.Load() || other.released.Load() {
		return ErrDestroyed
	}
	if other.dev != t.dev {
		return ErrForeignTexture
	}
	if err := checkWindow(t.root().info, firstLayer, firstLevel, other.info.Slices(), other.info.Levels); err != nil {
		return err
	}
	t.Group().CreateCopyDependency(other, firstLayer, firstLevel, copyTo)
	return nil
}

// Release destroys t. Releasing a storage releases its views and stops
// tracking its memory; releasing a view detaches it.
func (t *Texture) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}

	if t.storage != nil {
		t.storage.RemoveView(t)
		return
	}

	for _, v := range t.views {
		v.released.Store(true)
	}
	t.views = nil

	t.group.Dispose()
	t.dev.destroyTexture(t.raw)

	t.dev.log().Debug("hostgpu: storage released", "label", t.label)
}

// absolute converts a (layer, level) of t to storage coordinates.
func (t *Texture) absolute(layer, level int) (int, int) {
	if t.storage == nil {
		return layer, level
	}
	if t.info.Is3D() {
		return (t.firstLayer >> level) + layer, t.firstLevel + level
	}
	return t.firstLayer + layer, t.firstLevel + level
}

// subresources yields every (layer, level) covered by t in storage
// coordinates.
func (t *Texture) subresources() iter.Seq2[int, int] {
	s := t.root()
	return func(yield func(layer, level int) bool) {
		for k := range t.info.Levels {
			level := t.firstLevel + k
			first, count := t.firstLayer, t.info.Slices()
			if s.info.Is3D() {
				first = t.firstLayer >> k
				count = min(max(count>>k, 1), s.info.LevelDepth(level)-first)
			}
			for layer := first; layer < first+count; layer++ {
				if !yield(layer, level) {
					return
				}
			}
		}
	}
}

// span returns the byte span of a storage subresource.
func (t *Texture) span(layer, level int) (offset, size int) {
	return t.layout.AllOffsets[t.group.GetOffsetIndex(layer, level)], t.layout.SliceSizes[level]
}
