package texsync

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/texsync/memory"
)

// testMemorySize is the guest address space used by the fakes.
const testMemorySize = 1 << 20

func info2D(layers, levels int, width, height uint32) Info {
	return Info{
		Dimension: gputypes.TextureDimension2D,
		Size:      gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: uint32(layers)},
		Levels:    levels,
		Format:    gputypes.TextureFormatRGBA8Unorm,
	}
}

func info3D(depth, levels int, width, height uint32) Info {
	return Info{
		Dimension: gputypes.TextureDimension3D,
		Size:      gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: uint32(depth)},
		Levels:    levels,
		Format:    gputypes.TextureFormatRGBA8Unorm,
	}
}

type subresource struct {
	layer, level int
	size         int
}

type copyOp struct {
	dst                Storage
	srcLayer, dstLayer int
	srcLevel, dstLevel int
}

type flushOp struct {
	address, size uint64
}

// fakeStorage records every call the group makes on a storage texture.
type fakeStorage struct {
	info   Info
	layout SizeInfo
	rng    memory.MultiRange
	mem    *memory.PhysicalMemory
	group  *Group

	dirtySignals atomic.Int32
	fullSyncs    atomic.Int32

	mu      sync.Mutex
	setData []subresource
	copies  []copyOp
	flushes []flushOp
}

// newFakeStorage creates a storage at a single contiguous address in a
// fresh physical memory.
func newFakeStorage(t testing.TB, info Info, address uint64) *fakeStorage {
	t.Helper()

	mem, err := memory.NewPhysicalMemory(testMemorySize)
	if err != nil {
		t.Fatalf("NewPhysicalMemory: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	layout, err := NewSizeInfo(info)
	if err != nil {
		t.Fatalf("NewSizeInfo: %v", err)
	}
	return newFakeStorageRange(t, info, mem, memory.Range{Address: address, Size: uint64(layout.TotalSize)})
}

// newFakeStorageRange creates a storage backed by the given sub-ranges of mem.
func newFakeStorageRange(t testing.TB, info Info, mem *memory.PhysicalMemory, ranges ...memory.Range) *fakeStorage {
	t.Helper()

	layout, err := NewSizeInfo(info)
	if err != nil {
		t.Fatalf("NewSizeInfo: %v", err)
	}
	return &fakeStorage{
		info:   info,
		layout: layout,
		rng:    memory.NewMultiRange(ranges...),
		mem:    mem,
	}
}

// newTestGroup creates and initializes the group of s without views.
func newTestGroup(t testing.TB, s *fakeStorage, opts ...GroupOption) *Group {
	t.Helper()

	g := NewGroup(s, s.mem, opts...)
	if err := g.Initialize(s.layout, false, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.group = g
	t.Cleanup(g.Dispose)
	return g
}

func (s *fakeStorage) Info() Info               { return s.info }
func (s *fakeStorage) FirstLayer() int          { return 0 }
func (s *fakeStorage) FirstLevel() int          { return 0 }
func (s *fakeStorage) Size() uint64             { return s.rng.TotalSize() }
func (s *fakeStorage) Group() *Group            { return s.group }
func (s *fakeStorage) Range() memory.MultiRange { return s.rng }
func (s *fakeStorage) SignalGroupDirty()        { s.dirtySignals.Add(1) }
func (s *fakeStorage) SynchronizeFull()         { s.fullSyncs.Add(1) }

func (s *fakeStorage) ConvertToHostCompatibleFormat(data []byte, _ int) []byte {
	return data
}

func (s *fakeStorage) SetData(data []byte, layer, level int) {
	s.mu.Lock()
	s.setData = append(s.setData, subresource{layer: layer, level: level, size: len(data)})
	s.mu.Unlock()
}

func (s *fakeStorage) CopyTo(dst Storage, srcLayer, dstLayer, srcLevel, dstLevel int) {
	s.mu.Lock()
	s.copies = append(s.copies, copyOp{dst, srcLayer, dstLayer, srcLevel, dstLevel})
	s.mu.Unlock()
}

// ExternalFlush publishes a marker byte so readers can tell the flush ran.
func (s *fakeStorage) ExternalFlush(address, size uint64) {
	s.mu.Lock()
	s.flushes = append(s.flushes, flushOp{address, size})
	s.mu.Unlock()
	_ = s.mem.WriteUntracked(address, []byte{0xee})
}

func (s *fakeStorage) uploads() []subresource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.setData
	s.setData = nil
	return out
}

func (s *fakeStorage) takeCopies() []copyOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.copies
	s.copies = nil
	return out
}

func (s *fakeStorage) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flushes)
}

// addressOf returns the guest address of a byte offset in the storage.
func (s *fakeStorage) addressOf(offset int) uint64 {
	r := s.rng.Slice(uint64(offset), 1)
	return r.SubRange(0).Address
}

// write performs a guest write of one byte at a storage offset.
func (s *fakeStorage) write(t testing.TB, offset int) {
	t.Helper()
	if err := s.mem.Write(s.addressOf(offset), []byte{1}); err != nil {
		t.Fatalf("guest write at offset %d: %v", offset, err)
	}
}

// view creates a view of s. slices counts layers, or depth at firstLevel
// for 3D storages.
func (s *fakeStorage) view(firstLayer, firstLevel, slices, levels int) *fakeView {
	info := s.info
	info.Levels = levels
	info.Size.Width = max(info.Size.Width>>firstLevel, 1)
	info.Size.Height = max(info.Size.Height>>firstLevel, 1)
	info.Size.DepthOrArrayLayers = uint32(slices)

	layout, err := NewSizeInfo(info)
	if err != nil {
		panic(err)
	}
	return &fakeView{
		storage:    s,
		info:       info,
		firstLayer: firstLayer,
		firstLevel: firstLevel,
		size:       uint64(layout.TotalSize),
	}
}

// fakeView is a view aliasing part of a fakeStorage.
type fakeView struct {
	storage    *fakeStorage
	info       Info
	firstLayer int
	firstLevel int
	size       uint64

	dirtySignals atomic.Int32
	fullSyncs    atomic.Int32
	flushes      atomic.Int32
}

func (v *fakeView) Info() Info        { return v.info }
func (v *fakeView) FirstLayer() int   { return v.firstLayer }
func (v *fakeView) FirstLevel() int   { return v.firstLevel }
func (v *fakeView) Size() uint64      { return v.size }
func (v *fakeView) Group() *Group     { return v.storage.group }
func (v *fakeView) SignalGroupDirty() { v.dirtySignals.Add(1) }
func (v *fakeView) SynchronizeFull()  { v.fullSyncs.Add(1) }

func (v *fakeView) ExternalFlush(uint64, uint64) { v.flushes.Add(1) }

func textures(views ...*fakeView) []Texture {
	out := make([]Texture, len(views))
	for i, v := range views {
		out[i] = v
	}
	return out
}
