package memory

// Unmapped is the address reported for a sub-range that has no physical
// backing. Such sub-ranges occupy bytes in a MultiRange but are never tracked.
const Unmapped = ^uint64(0)

// Range is one contiguous span of physical memory.
type Range struct {
	Address uint64
	Size    uint64
}

// End returns the first address past the range.
func (r Range) End() uint64 {
	return r.Address + r.Size
}

// IsUnmapped reports whether the range has no physical backing.
func (r Range) IsUnmapped() bool {
	return r.Address == Unmapped
}

// OverlapsWith reports whether the range intersects [address, address+size).
func (r Range) OverlapsWith(address, size uint64) bool {
	return r.Address < address+size && address < r.Address+r.Size
}

// MultiRange is an ordered list of sub-ranges that together back one
// resource. Sub-ranges may be disjoint in physical memory and some may be
// unmapped; byte offsets into the resource run through them in order.
type MultiRange struct {
	ranges []Range
}

// NewMultiRange creates a multi-range from the given sub-ranges.
// Zero-sized sub-ranges are dropped.
func NewMultiRange(ranges ...Range) MultiRange {
	out := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.Size != 0 {
			out = append(out, r)
		}
	}
	return MultiRange{ranges: out}
}

// Count returns the number of sub-ranges.
func (m MultiRange) Count() int {
	return len(m.ranges)
}

// SubRange returns sub-range i.
func (m MultiRange) SubRange(i int) Range {
	return m.ranges[i]
}

// TotalSize returns the sum of all sub-range sizes, mapped or not.
func (m MultiRange) TotalSize() uint64 {
	var total uint64
	for _, r := range m.ranges {
		total += r.Size
	}
	return total
}

// Slice returns the part of the multi-range covering bytes
// [offset, offset+size) of the resource. Unmapped sub-ranges stay unmapped
// in the result. The result is clamped to the multi-range's total size.
func (m MultiRange) Slice(offset, size uint64) MultiRange {
	var out []Range
	end := offset + size

	var pos uint64
	for _, r := range m.ranges {
		rStart, rEnd := pos, pos+r.Size
		pos = rEnd

		if rEnd <= offset {
			continue
		}
		if rStart >= end {
			break
		}

		lo := max(offset, rStart)
		hi := min(end, rEnd)

		address := Unmapped
		if !r.IsUnmapped() {
			address = r.Address + (lo - rStart)
		}
		out = append(out, Range{Address: address, Size: hi - lo})
	}

	return MultiRange{ranges: out}
}

// Ranges returns a copy of the sub-ranges.
func (m MultiRange) Ranges() []Range {
	out := make([]Range, len(m.ranges))
	copy(out, m.ranges)
	return out
}
