package texsync

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestNewSizeInfo(t *testing.T) {
	tests := []struct {
		name        string
		info        Info
		wantOffsets []int
		wantSlices  []int
		wantTotal   int
	}{
		{
			name:        "array of four RGBA8 layers",
			info:        info2D(4, 1, 64, 64),
			wantOffsets: []int{0, 16384, 32768, 49152},
			wantSlices:  []int{16384},
			wantTotal:   65536,
		},
		{
			name: "array with mips stores levels per layer",
			info: info2D(2, 3, 8, 8),
			// 8x8, 4x4, 2x2 at 4 bytes per texel.
			wantOffsets: []int{0, 256, 320, 336, 592, 656},
			wantSlices:  []int{256, 64, 16},
			wantTotal:   672,
		},
		{
			name: "volume halves depth per level",
			info: info3D(4, 3, 4, 4),
			// 4 slices of 64, 2 slices of 16, 1 slice of 4.
			wantOffsets: []int{0, 64, 128, 192, 256, 272, 288},
			wantSlices:  []int{64, 16, 4},
			wantTotal:   292,
		},
		{
			name: "block compressed rounds up to blocks",
			info: Info{
				Dimension: gputypes.TextureDimension2D,
				Size:      gputypes.Extent3D{Width: 6, Height: 6, DepthOrArrayLayers: 1},
				Levels:    2,
				Format:    gputypes.TextureFormatBC1RGBAUnorm,
			},
			// 2x2 blocks then 1x1 block at 8 bytes.
			wantOffsets: []int{0, 32},
			wantSlices:  []int{32, 8},
			wantTotal:   40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSizeInfo(tt.info)
			if err != nil {
				t.Fatalf("NewSizeInfo() error = %v", err)
			}
			if !slices.Equal(got.AllOffsets, tt.wantOffsets) {
				t.Errorf("AllOffsets = %v, want %v", got.AllOffsets, tt.wantOffsets)
			}
			if !slices.Equal(got.SliceSizes, tt.wantSlices) {
				t.Errorf("SliceSizes = %v, want %v", got.SliceSizes, tt.wantSlices)
			}
			if got.TotalSize != tt.wantTotal {
				t.Errorf("TotalSize = %d, want %d", got.TotalSize, tt.wantTotal)
			}
			if err := got.Validate(tt.info); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestNewSizeInfo_Invalid(t *testing.T) {
	tests := []struct {
		name string
		info Info
	}{
		{"zero levels", info2D(1, 0, 4, 4)},
		{"zero layers", info2D(0, 1, 4, 4)},
		{"zero width", info2D(1, 1, 0, 4)},
		{"undefined format", Info{
			Dimension: gputypes.TextureDimension2D,
			Size:      gputypes.NewExtent2D(4, 4),
			Levels:    1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSizeInfo(tt.info); !errors.Is(err, ErrInvalidInfo) {
				t.Errorf("NewSizeInfo() error = %v, want ErrInvalidInfo", err)
			}
		})
	}
}

func TestSizeInfo_ValidateMismatch(t *testing.T) {
	s, err := NewSizeInfo(info2D(2, 1, 4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(info2D(4, 1, 4, 4)); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("Validate() = %v, want ErrInvalidLayout", err)
	}

	s.AllOffsets[1] = 0
	if err := s.Validate(info2D(2, 1, 4, 4)); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("Validate() with unordered offsets = %v, want ErrInvalidLayout", err)
	}
}

func TestInfo_LevelDepth(t *testing.T) {
	vol := info3D(8, 4, 16, 16)
	for level, want := range []int{8, 4, 2, 1} {
		if got := vol.LevelDepth(level); got != want {
			t.Errorf("3D LevelDepth(%d) = %d, want %d", level, got, want)
		}
	}

	arr := info2D(6, 3, 16, 16)
	if got := arr.LevelDepth(2); got != 6 {
		t.Errorf("array LevelDepth(2) = %d, want 6", got)
	}
}

func TestBytesPerBlock(t *testing.T) {
	bytes, w, h, ok := BytesPerBlock(gputypes.TextureFormatASTC8x5Unorm)
	if !ok || bytes != 16 || w != 8 || h != 5 {
		t.Errorf("ASTC8x5 = (%d, %d, %d, %v), want (16, 8, 5, true)", bytes, w, h, ok)
	}
	if _, _, _, ok := BytesPerBlock(gputypes.TextureFormatUndefined); ok {
		t.Error("undefined format reported as supported")
	}
}
