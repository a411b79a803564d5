package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRange_OverlapsWith(t *testing.T) {
	r := Range{Address: 0x1000, Size: 0x100}

	require.True(t, r.OverlapsWith(0x1000, 1))
	require.True(t, r.OverlapsWith(0x10ff, 1))
	require.True(t, r.OverlapsWith(0x0f00, 0x200))
	require.False(t, r.OverlapsWith(0x1100, 0x10))
	require.False(t, r.OverlapsWith(0x0f00, 0x100))
	require.Equal(t, uint64(0x1100), r.End())
}

func TestMultiRange_DropsEmpty(t *testing.T) {
	mr := NewMultiRange(Range{Address: 0, Size: 16}, Range{Address: 64, Size: 0}, Range{Address: 128, Size: 32})
	require.Equal(t, 2, mr.Count())
	require.Equal(t, uint64(48), mr.TotalSize())
}

func TestMultiRange_Slice(t *testing.T) {
	mr := NewMultiRange(
		Range{Address: 0x1000, Size: 0x100},
		Range{Address: Unmapped, Size: 0x80},
		Range{Address: 0x4000, Size: 0x100},
	)

	tests := []struct {
		name   string
		offset uint64
		size   uint64
		want   []Range
	}{
		{
			name:   "inside first",
			offset: 0x10, size: 0x20,
			want: []Range{{Address: 0x1010, Size: 0x20}},
		},
		{
			name:   "across all three",
			offset: 0xf0, size: 0xa0,
			want: []Range{
				{Address: 0x10f0, Size: 0x10},
				{Address: Unmapped, Size: 0x80},
				{Address: 0x4000, Size: 0x10},
			},
		},
		{
			name:   "last only",
			offset: 0x180, size: 0x100,
			want: []Range{{Address: 0x4000, Size: 0x100}},
		},
		{
			name:   "clamped past end",
			offset: 0x200, size: 0x1000,
			want: []Range{{Address: 0x4080, Size: 0x80}},
		},
		{
			name:   "beyond end",
			offset: 0x300, size: 0x10,
			want: []Range{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mr.Slice(tt.offset, tt.size).Ranges()
			require.Equal(t, tt.want, got)
		})
	}
}
