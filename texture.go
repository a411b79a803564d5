package texsync

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/texsync/memory"
)

// Info describes the shape of a texture.
type Info struct {
	Dimension gputypes.TextureDimension
	Size      gputypes.Extent3D
	Levels    int
	Format    gputypes.TextureFormat
}

// Is3D reports whether the texture is a volume texture.
func (i Info) Is3D() bool {
	return i.Dimension == gputypes.TextureDimension3D
}

// Slices returns the depth of a 3D texture or the array layer count
// of any other texture.
func (i Info) Slices() int {
	return int(i.Size.DepthOrArrayLayers)
}

// LevelDepth returns the number of slices stored at the given level.
// The depth of a 3D texture halves at each level with a minimum of one;
// array layers are the same at every level.
func (i Info) LevelDepth(level int) int {
	if !i.Is3D() {
		return i.Slices()
	}
	return max(i.Slices()>>level, 1)
}

// Validate checks that the texture has a usable shape.
func (i Info) Validate() error {
	if i.Levels < 1 {
		return fmt.Errorf("%w: %d levels", ErrInvalidInfo, i.Levels)
	}
	if i.Size.Width == 0 || i.Size.Height == 0 || i.Size.DepthOrArrayLayers == 0 {
		return fmt.Errorf("%w: extent %dx%dx%d", ErrInvalidInfo,
			i.Size.Width, i.Size.Height, i.Size.DepthOrArrayLayers)
	}
	if _, ok := lookupBlock(i.Format); !ok {
		return fmt.Errorf("%w: format %v", ErrInvalidInfo, i.Format)
	}
	return nil
}

// Texture is a storage texture or a view aliasing part of one.
//
// FirstLayer and FirstLevel locate a view within its storage and are zero
// for the storage itself. For views of 3D textures FirstLayer is the depth
// slice at FirstLevel.
type Texture interface {
	Info() Info
	FirstLayer() int
	FirstLevel() int

	// Size returns the number of bytes the texture covers in guest memory.
	Size() uint64

	// Group returns the group tracking the texture's storage.
	Group() *Group

	// SignalGroupDirty flags the texture for synchronization on its next use.
	SignalGroupDirty()

	// SynchronizeFull reloads the whole texture from guest memory.
	SynchronizeFull()

	// ExternalFlush writes GPU data overlapping [address, address+size)
	// back to guest memory. It returns once the data is visible.
	ExternalFlush(address, size uint64)
}

// Storage is the texture owning the backing memory of a Group.
type Storage interface {
	Texture

	// Range returns the guest memory backing the texture, possibly split
	// across several disjoint or unmapped sub-ranges.
	Range() memory.MultiRange

	// ConvertToHostCompatibleFormat converts guest bytes of one slice of
	// the given level to the layout SetData expects.
	ConvertToHostCompatibleFormat(data []byte, level int) []byte

	// SetData uploads one (layer, level) subresource.
	SetData(data []byte, layer, level int)

	// CopyTo copies one subresource to a subresource of dst on the GPU.
	CopyTo(dst Storage, srcLayer, dstLayer, srcLevel, dstLevel int)
}
