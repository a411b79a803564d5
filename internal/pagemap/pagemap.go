// Package pagemap provides a lock-free bitmap with one bit per memory page.
//
// The physical memory provider uses it to record which guest pages are
// currently unmapped. Bits are written by the goroutine that changes the
// mapping and read by arbitrary goroutines performing guest accesses, so every
// operation is atomic.
package pagemap

import (
	"math/bits"
	"sync/atomic"
)

// Map is an atomic bitmap, one bit per page, packed into uint64 words.
//
// All methods are safe for concurrent use without external synchronization.
// Range operations are not atomic as a whole: a concurrent reader may observe
// a range half-updated, but never a torn word.
type Map struct {
	// words holds the bits. Bit index = page, word index = page / 64.
	words []atomic.Uint64

	// pages is the number of valid bits.
	pages int
}

// New creates a bitmap for the given number of pages. All bits start clear.
// Returns nil if pages is zero or negative.
func New(pages int) *Map {
	if pages <= 0 {
		return nil
	}

	return &Map{
		words: make([]atomic.Uint64, (pages+63)/64),
		pages: pages,
	}
}

// Pages returns the number of pages covered by the bitmap.
func (m *Map) Pages() int {
	return m.pages
}

// Set sets the bit for page i. Out-of-range pages are ignored.
func (m *Map) Set(i int) {
	if i < 0 || i >= m.pages {
		return
	}
	m.words[i/64].Or(1 << (i & 63))
}

// Clear clears the bit for page i. Out-of-range pages are ignored.
func (m *Map) Clear(i int) {
	if i < 0 || i >= m.pages {
		return
	}
	m.words[i/64].And(^(uint64(1) << (i & 63)))
}

// Test reports whether the bit for page i is set.
// Returns false for out-of-range pages.
func (m *Map) Test(i int) bool {
	if i < 0 || i >= m.pages {
		return false
	}
	return m.words[i/64].Load()&(1<<(i&63)) != 0
}

// SetRange sets count bits starting at first, clamped to the bitmap.
func (m *Map) SetRange(first, count int) {
	m.forEachWord(first, count, func(w *atomic.Uint64, mask uint64) {
		w.Or(mask)
	})
}

// ClearRange clears count bits starting at first, clamped to the bitmap.
func (m *Map) ClearRange(first, count int) {
	m.forEachWord(first, count, func(w *atomic.Uint64, mask uint64) {
		w.And(^mask)
	})
}

// AnyInRange reports whether any bit in [first, first+count) is set.
func (m *Map) AnyInRange(first, count int) bool {
	found := false
	m.forEachWord(first, count, func(w *atomic.Uint64, mask uint64) {
		if w.Load()&mask != 0 {
			found = true
		}
	})
	return found
}

// Count returns the number of set bits.
func (m *Map) Count() int {
	count := 0
	for i := range m.words {
		count += bits.OnesCount64(m.words[i].Load())
	}
	return count
}

// forEachWord calls fn with each word touched by [first, first+count) and the
// mask of bits inside the range for that word.
func (m *Map) forEachWord(first, count int, fn func(w *atomic.Uint64, mask uint64)) {
	if first < 0 {
		count += first
		first = 0
	}
	end := first + count
	if end > m.pages {
		end = m.pages
	}
	if first >= end {
		return
	}

	for i := first; i < end; {
		wordIdx := i / 64
		bitIdx := i & 63

		n := 64 - bitIdx
		if rest := end - i; rest < n {
			n = rest
		}

		var mask uint64
		if n == 64 {
			mask = ^uint64(0)
		} else {
			mask = ((uint64(1) << n) - 1) << bitIdx
		}

		fn(&m.words[wordIdx], mask)
		i += n
	}
}
