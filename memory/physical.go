package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/gogpu/texsync/internal/pagemap"
)

// Physical memory errors.
var (
	// ErrOutOfRange is returned when an access falls outside the arena.
	ErrOutOfRange = errors.New("memory: access out of range")

	// ErrUnmapped is returned when a guest access touches an unmapped page.
	ErrUnmapped = errors.New("memory: access to unmapped page")

	// ErrClosed is returned when operating on a closed PhysicalMemory.
	ErrClosed = errors.New("memory: physical memory closed")

	// ErrInvalidSize is returned for a zero arena or a bad page size.
	ErrInvalidSize = errors.New("memory: invalid size")
)

// DefaultPageSize is the mapping granularity used when none is configured.
const DefaultPageSize = 4096

// Option configures a PhysicalMemory during creation.
type Option func(*options)

type options struct {
	pageSize uint64
	logger   *slog.Logger
}

// WithPageSize sets the mapping granularity. It must be a power of two;
// other values fall back to DefaultPageSize.
func WithPageSize(size uint64) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithLogger sets the logger used by this instance instead of the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// PhysicalMemory is a flat guest address space starting at address 0 with
// software write tracking.
//
// Guest accesses (Read, Write) may come from any goroutine. Tracking
// actions registered on handles run synchronously on the accessing
// goroutine before the access completes.
type PhysicalMemory struct {
	// dataMu protects the arena contents.
	dataMu  sync.RWMutex
	data    []byte
	size    uint64
	release func() error

	pageSize  uint64
	pageShift uint
	unmapped  *pagemap.Map

	// mu protects handles.
	mu      sync.RWMutex
	handles map[*regionHandle]struct{}

	closed atomic.Bool
	logger *slog.Logger
}

// NewPhysicalMemory creates a zero-filled address space of the given size.
// All pages start mapped.
func NewPhysicalMemory(size uint64, opts ...Option) (*PhysicalMemory, error) {
	o := options{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize == 0 || o.pageSize&(o.pageSize-1) != 0 {
		o.pageSize = DefaultPageSize
	}

	if size == 0 || size > uint64(maxArena) {
		return nil, fmt.Errorf("%w: arena size %d", ErrInvalidSize, size)
	}

	data, release, err := allocArena(int(size))
	if err != nil {
		return nil, err
	}

	pages := (size + o.pageSize - 1) / o.pageSize

	m := &PhysicalMemory{
		data:      data,
		size:      size,
		release:   release,
		pageSize:  o.pageSize,
		pageShift: uint(bits.TrailingZeros64(o.pageSize)),
		unmapped:  pagemap.New(int(pages)),
		handles:   make(map[*regionHandle]struct{}),
		logger:    o.logger,
	}

	m.log().Debug("memory: arena allocated", "size", size, "pageSize", o.pageSize)
	return m, nil
}

// maxArena bounds the arena so sizes fit in an int on every platform.
const maxArena = 1<<31 - 1

func (m *PhysicalMemory) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slogger()
}

// Size returns the size of the address space in bytes.
func (m *PhysicalMemory) Size() uint64 {
	return m.size
}

// PageSize returns the mapping granularity.
func (m *PhysicalMemory) PageSize() uint64 {
	return m.pageSize
}

// Close releases the arena. Handles created by this memory become inert.
func (m *PhysicalMemory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	m.handles = make(map[*regionHandle]struct{})
	m.mu.Unlock()

	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	err := m.release()
	m.data = nil
	return err
}

// Read performs a guest read. Pending actions on overlapping handles run
// first, so the returned bytes include any data they flushed.
func (m *PhysicalMemory) Read(address, size uint64) ([]byte, error) {
	if err := m.checkAccess(address, size); err != nil {
		return nil, err
	}

	m.runActions(m.overlapping(address, size), address, size)

	out := make([]byte, size)
	m.dataMu.RLock()
	copy(out, m.data[address:address+size])
	m.dataMu.RUnlock()

	return out, nil
}

// Write performs a guest write. Pending actions on overlapping handles run
// first; afterwards every overlapping mapped handle is marked dirty and the
// ones that were clean fire their dirty events on the calling goroutine.
func (m *PhysicalMemory) Write(address uint64, data []byte) error {
	size := uint64(len(data))
	if err := m.checkAccess(address, size); err != nil {
		return err
	}

	handles := m.overlapping(address, size)
	m.runActions(handles, address, size)

	m.dataMu.Lock()
	copy(m.data[address:], data)
	m.dataMu.Unlock()

	for _, h := range handles {
		h.markDirty()
	}

	return nil
}

// WriteUntracked writes data without running actions or dirtying handles.
// GPU-to-CPU flushes use it to publish texture contents.
func (m *PhysicalMemory) WriteUntracked(address uint64, data []byte) error {
	size := uint64(len(data))
	if m.closed.Load() {
		return ErrClosed
	}
	if address+size < address || address+size > m.Size() {
		return fmt.Errorf("%w: [%#x, %#x)", ErrOutOfRange, address, address+size)
	}

	m.dataMu.Lock()
	copy(m.data[address:], data)
	m.dataMu.Unlock()
	return nil
}

// GetSpan implements Provider. Unmapped sub-ranges and bytes outside the
// arena read as zeros.
func (m *PhysicalMemory) GetSpan(r MultiRange) []byte {
	out := make([]byte, r.TotalSize())

	m.dataMu.RLock()
	defer m.dataMu.RUnlock()

	var pos uint64
	for _, sub := range r.ranges {
		if !sub.IsUnmapped() && sub.Address < uint64(len(m.data)) {
			end := min(sub.End(), uint64(len(m.data)))
			copy(out[pos:], m.data[sub.Address:end])
		}
		pos += sub.Size
	}

	return out
}

// BeginTracking implements Provider.
func (m *PhysicalMemory) BeginTracking(address, size uint64) RegionHandle {
	h := &regionHandle{
		mem:     m,
		address: address,
		size:    size,
	}
	h.dirty.Store(true)
	h.unmapped.Store(m.isUnmapped(address, size))

	if !m.closed.Load() {
		m.mu.Lock()
		m.handles[h] = struct{}{}
		m.mu.Unlock()
	}

	return h
}

// Map marks the pages covering [address, address+size) as mapped. Handles
// overlapping a remapped range become dirty, since the memory behind them
// changed.
func (m *PhysicalMemory) Map(address, size uint64) error {
	if err := m.checkRange(address, size); err != nil {
		return err
	}

	first, count := m.pages(address, size)
	m.unmapped.ClearRange(first, count)

	for _, h := range m.overlapping(address, size) {
		if h.unmapped.Load() && !m.isUnmapped(h.address, h.size) {
			h.unmapped.Store(false)
			h.markDirty()
		}
	}

	m.log().Debug("memory: mapped", "address", address, "size", size)
	return nil
}

// Unmap marks the pages covering [address, address+size) as unmapped.
// Overlapping handles report Unmapped, drop their pending actions and stop
// reporting dirty: there is nothing to load from unmapped memory.
func (m *PhysicalMemory) Unmap(address, size uint64) error {
	if err := m.checkRange(address, size); err != nil {
		return err
	}

	first, count := m.pages(address, size)
	m.unmapped.SetRange(first, count)

	for _, h := range m.overlapping(address, size) {
		h.unmapped.Store(true)
		h.dirty.Store(false)
		h.takeAction()
	}

	m.log().Debug("memory: unmapped", "address", address, "size", size)
	return nil
}

// TrackedHandles returns the number of live region handles.
func (m *PhysicalMemory) TrackedHandles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *PhysicalMemory) checkRange(address, size uint64) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if size == 0 || address+size < address || address+size > m.Size() {
		return fmt.Errorf("%w: [%#x, %#x)", ErrOutOfRange, address, address+size)
	}
	return nil
}

func (m *PhysicalMemory) checkAccess(address, size uint64) error {
	if err := m.checkRange(address, size); err != nil {
		return err
	}
	if m.isUnmapped(address, size) {
		return fmt.Errorf("%w: [%#x, %#x)", ErrUnmapped, address, address+size)
	}
	return nil
}

// pages returns the page span covering [address, address+size).
func (m *PhysicalMemory) pages(address, size uint64) (first, count int) {
	start := address >> m.pageShift
	end := (address + size + m.pageSize - 1) >> m.pageShift
	return int(start), int(end - start)
}

func (m *PhysicalMemory) isUnmapped(address, size uint64) bool {
	if size == 0 {
		return false
	}
	first, count := m.pages(address, size)
	return m.unmapped.AnyInRange(first, count)
}

// overlapping returns a snapshot of the live handles intersecting the range.
func (m *PhysicalMemory) overlapping(address, size uint64) []*regionHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*regionHandle
	for h := range m.handles {
		if h.OverlapsWith(address, size) {
			out = append(out, h)
		}
	}
	return out
}

// runActions takes and invokes the pending action of each handle.
// No lock is held while actions run; they may write memory back.
func (m *PhysicalMemory) runActions(handles []*regionHandle, address, size uint64) {
	for _, h := range handles {
		if action := h.takeAction(); action != nil {
			action(address, size)
		}
	}
}

func (m *PhysicalMemory) unregister(h *regionHandle) {
	m.mu.Lock()
	delete(m.handles, h)
	m.mu.Unlock()
}
