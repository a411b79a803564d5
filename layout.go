package texsync

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// SizeInfo is the linear layout of a texture in guest memory.
//
// AllOffsets holds the byte offset of every (layer, level) subresource,
// indexed like Group.GetOffsetIndex. SliceSizes holds the size of a single
// slice at each level and LevelSizes the size of all slices of a level.
type SizeInfo struct {
	AllOffsets []int
	SliceSizes []int
	LevelSizes []int
	TotalSize  int
}

// NewSizeInfo computes the linear layout for info.
//
// 2D and array textures are stored layer by layer with all levels of a
// layer contiguous. 3D textures are stored level by level with all depth
// slices of a level contiguous.
func NewSizeInfo(info Info) (SizeInfo, error) {
	if err := info.Validate(); err != nil {
		return SizeInfo{}, err
	}

	b, _ := lookupBlock(info.Format)

	s := SizeInfo{
		SliceSizes: make([]int, info.Levels),
		LevelSizes: make([]int, info.Levels),
	}
	for level := range info.Levels {
		s.SliceSizes[level] = b.sliceSize(info.Size, level)
		s.LevelSizes[level] = s.SliceSizes[level] * info.LevelDepth(level)
	}

	pos := 0
	if info.Is3D() {
		for level := range info.Levels {
			for range info.LevelDepth(level) {
				s.AllOffsets = append(s.AllOffsets, pos)
				pos += s.SliceSizes[level]
			}
		}
	} else {
		s.AllOffsets = make([]int, 0, info.Slices()*info.Levels)
		for range info.Slices() {
			for level := range info.Levels {
				s.AllOffsets = append(s.AllOffsets, pos)
				pos += s.SliceSizes[level]
			}
		}
	}
	s.TotalSize = pos

	return s, nil
}

// Validate checks that the layout has one ascending offset per subresource
// of info and one slice size per level.
func (s SizeInfo) Validate(info Info) error {
	want := 0
	for level := range info.Levels {
		want += info.LevelDepth(level)
	}
	if !info.Is3D() {
		want = info.Slices() * info.Levels
	}

	if len(s.AllOffsets) != want {
		return fmt.Errorf("%w: %d offsets, want %d", ErrInvalidLayout, len(s.AllOffsets), want)
	}
	if len(s.SliceSizes) != info.Levels {
		return fmt.Errorf("%w: %d slice sizes, want %d", ErrInvalidLayout, len(s.SliceSizes), info.Levels)
	}
	for i := 1; i < len(s.AllOffsets); i++ {
		if s.AllOffsets[i] <= s.AllOffsets[i-1] {
			return fmt.Errorf("%w: offset %d not ascending", ErrInvalidLayout, i)
		}
	}
	if len(s.AllOffsets) > 0 && s.AllOffsets[len(s.AllOffsets)-1] >= s.TotalSize {
		return fmt.Errorf("%w: last offset past total size %d", ErrInvalidLayout, s.TotalSize)
	}
	return nil
}

// block describes the texel block of a format.
type block struct {
	width, height int
	bytes         int
}

func (b block) sliceSize(extent gputypes.Extent3D, level int) int {
	w := max(int(extent.Width)>>level, 1)
	h := max(int(extent.Height)>>level, 1)
	return ((w + b.width - 1) / b.width) * ((h + b.height - 1) / b.height) * b.bytes
}

func lookupBlock(f gputypes.TextureFormat) (block, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return block{1, 1, 1}, true

	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return block{1, 1, 2}, true

	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat,
		gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float:
		return block{1, 1, 4}, true

	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return block{1, 1, 8}, true

	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return block{1, 1, 16}, true

	case gputypes.TextureFormatBC1RGBAUnorm, gputypes.TextureFormatBC1RGBAUnormSrgb,
		gputypes.TextureFormatBC4RUnorm, gputypes.TextureFormatBC4RSnorm,
		gputypes.TextureFormatETC2RGB8Unorm, gputypes.TextureFormatETC2RGB8UnormSrgb,
		gputypes.TextureFormatETC2RGB8A1Unorm, gputypes.TextureFormatETC2RGB8A1UnormSrgb,
		gputypes.TextureFormatEACR11Unorm, gputypes.TextureFormatEACR11Snorm:
		return block{4, 4, 8}, true

	case gputypes.TextureFormatBC2RGBAUnorm, gputypes.TextureFormatBC2RGBAUnormSrgb,
		gputypes.TextureFormatBC3RGBAUnorm, gputypes.TextureFormatBC3RGBAUnormSrgb,
		gputypes.TextureFormatBC5RGUnorm, gputypes.TextureFormatBC5RGSnorm,
		gputypes.TextureFormatBC6HRGBUfloat, gputypes.TextureFormatBC6HRGBFloat,
		gputypes.TextureFormatBC7RGBAUnorm, gputypes.TextureFormatBC7RGBAUnormSrgb,
		gputypes.TextureFormatETC2RGBA8Unorm, gputypes.TextureFormatETC2RGBA8UnormSrgb,
		gputypes.TextureFormatEACRG11Unorm, gputypes.TextureFormatEACRG11Snorm:
		return block{4, 4, 16}, true

	case gputypes.TextureFormatASTC4x4Unorm, gputypes.TextureFormatASTC4x4UnormSrgb:
		return block{4, 4, 16}, true
	case gputypes.TextureFormatASTC5x4Unorm, gputypes.TextureFormatASTC5x4UnormSrgb:
		return block{5, 4, 16}, true
	case gputypes.TextureFormatASTC5x5Unorm, gputypes.TextureFormatASTC5x5UnormSrgb:
		return block{5, 5, 16}, true
	case gputypes.TextureFormatASTC6x5Unorm, gputypes.TextureFormatASTC6x5UnormSrgb:
		return block{6, 5, 16}, true
	case gputypes.TextureFormatASTC6x6Unorm, gputypes.TextureFormatASTC6x6UnormSrgb:
		return block{6, 6, 16}, true
	case gputypes.TextureFormatASTC8x5Unorm, gputypes.TextureFormatASTC8x5UnormSrgb:
		return block{8, 5, 16}, true
	case gputypes.TextureFormatASTC8x6Unorm, gputypes.TextureFormatASTC8x6UnormSrgb:
		return block{8, 6, 16}, true
	case gputypes.TextureFormatASTC8x8Unorm, gputypes.TextureFormatASTC8x8UnormSrgb:
		return block{8, 8, 16}, true
	case gputypes.TextureFormatASTC10x5Unorm, gputypes.TextureFormatASTC10x5UnormSrgb:
		return block{10, 5, 16}, true
	case gputypes.TextureFormatASTC10x6Unorm, gputypes.TextureFormatASTC10x6UnormSrgb:
		return block{10, 6, 16}, true
	case gputypes.TextureFormatASTC10x8Unorm, gputypes.TextureFormatASTC10x8UnormSrgb:
		return block{10, 8, 16}, true
	case gputypes.TextureFormatASTC10x10Unorm, gputypes.TextureFormatASTC10x10UnormSrgb:
		return block{10, 10, 16}, true
	case gputypes.TextureFormatASTC12x10Unorm, gputypes.TextureFormatASTC12x10UnormSrgb:
		return block{12, 10, 16}, true
	case gputypes.TextureFormatASTC12x12Unorm, gputypes.TextureFormatASTC12x12UnormSrgb:
		return block{12, 12, 16}, true
	}
	return block{}, false
}

// BytesPerBlock returns the byte size of one texel block of f and the
// block dimensions. ok is false for unsupported formats.
func BytesPerBlock(f gputypes.TextureFormat) (bytes, width, height int, ok bool) {
	b, ok := lookupBlock(f)
	return b.bytes, b.width, b.height, ok
}
