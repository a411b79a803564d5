package memory

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMemory(t testing.TB, size uint64) *PhysicalMemory {
	t.Helper()

	m, err := NewPhysicalMemory(size)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func TestNewPhysicalMemory_InvalidSize(t *testing.T) {
	_, err := NewPhysicalMemory(0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestPhysicalMemory_PageSizeFallback(t *testing.T) {
	m, err := NewPhysicalMemory(1<<16, WithPageSize(3000))
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, uint64(DefaultPageSize), m.PageSize())
}

func TestPhysicalMemory_ReadWrite(t *testing.T) {
	m := newTestMemory(t, 1<<16)

	require.NoError(t, m.Write(0x100, []byte{1, 2, 3, 4}))

	got, err := m.Read(0x100, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, got)

	_, err = m.Read(1<<16-2, 4)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, m.Write(1<<16, []byte{1}), ErrOutOfRange)
}

func TestPhysicalMemory_GetSpan(t *testing.T) {
	m := newTestMemory(t, 1<<16)
	require.NoError(t, m.Write(0x10, []byte{0xaa, 0xbb}))
	require.NoError(t, m.Write(0x2000, []byte{0xcc}))

	span := m.GetSpan(NewMultiRange(
		Range{Address: 0x10, Size: 2},
		Range{Address: Unmapped, Size: 3},
		Range{Address: 0x2000, Size: 1},
	))
	require.Equal(t, []byte{0xaa, 0xbb, 0, 0, 0, 0xcc}, span)
}

func TestRegionHandle_DirtyTracking(t *testing.T) {
	m := newTestMemory(t, 1<<16)

	h := m.BeginTracking(0x1000, 0x100)
	require.True(t, h.Dirty(), "new handles start dirty")
	require.Equal(t, 1, m.TrackedHandles())

	h.Reprotect(false)
	require.False(t, h.Dirty())

	var fired atomic.Int32
	h.RegisterDirtyEvent(func() { fired.Add(1) })

	// Outside the handle.
	require.NoError(t, m.Write(0x1100, []byte{1}))
	require.False(t, h.Dirty())

	require.NoError(t, m.Write(0x10ff, []byte{1}))
	require.True(t, h.Dirty())
	require.Equal(t, int32(1), fired.Load())

	// Already dirty: no second event.
	require.NoError(t, m.Write(0x1000, []byte{1}))
	require.Equal(t, int32(1), fired.Load())

	// Reprotect as dirty keeps the flag without firing.
	h.Reprotect(true)
	require.True(t, h.Dirty())
	require.Equal(t, int32(1), fired.Load())

	h.Dispose()
	h.Dispose()
	require.Zero(t, m.TrackedHandles())
}

func TestRegionHandle_ActionIsOneShotRendezvous(t *testing.T) {
	m := newTestMemory(t, 1<<16)

	h := m.BeginTracking(0x2000, 0x10)
	h.Reprotect(false)

	var calls int
	h.RegisterAction(func(address, size uint64) {
		calls++
		require.Equal(t, uint64(0x2004), address)
		require.Equal(t, uint64(4), size)
		// Publish data before the read completes.
		require.NoError(t, m.WriteUntracked(0x2004, []byte{9, 8, 7, 6}))
	})

	got, err := m.Read(0x2004, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7, 6}, got)
	require.Equal(t, 1, calls)
	require.False(t, h.Dirty(), "untracked writes do not dirty")

	_, err = m.Read(0x2004, 4)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "actions fire once")
}

func TestRegionHandle_UnmapAndRemap(t *testing.T) {
	m := newTestMemory(t, 1<<16)

	h := m.BeginTracking(0x3000, 0x1000)
	h.Reprotect(false)
	h.RegisterAction(func(uint64, uint64) { t.Fatal("action must be dropped on unmap") })

	var fired atomic.Int32
	h.RegisterDirtyEvent(func() { fired.Add(1) })

	require.NoError(t, m.Unmap(0x3000, 0x1000))
	require.True(t, h.Unmapped())
	require.False(t, h.Dirty())
	require.ErrorIs(t, m.Write(0x3000, []byte{1}), ErrUnmapped)

	// Handles created over unmapped memory report it.
	h2 := m.BeginTracking(0x3800, 0x10)
	require.True(t, h2.Unmapped())

	require.NoError(t, m.Map(0x3000, 0x1000))
	require.False(t, h.Unmapped())
	require.True(t, h.Dirty())
	require.Equal(t, int32(1), fired.Load())
}

func TestPhysicalMemory_ConcurrentWriters(t *testing.T) {
	m := newTestMemory(t, 1<<16)

	const handles = 16
	var events atomic.Int32
	hs := make([]RegionHandle, handles)
	for i := range hs {
		hs[i] = m.BeginTracking(uint64(i)*0x100, 0x100)
		hs[i].Reprotect(false)
		hs[i].RegisterDirtyEvent(func() { events.Add(1) })
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < handles; i++ {
				_ = m.Write(uint64(i)*0x100+0x10, []byte{byte(i)})
			}
		}()
	}
	wg.Wait()

	for _, h := range hs {
		require.True(t, h.Dirty())
	}
	require.Equal(t, int32(handles), events.Load(), "one event per clean to dirty transition")
}
