package hostgpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/texsync"
	"github.com/gogpu/texsync/memory"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/software"
)

// GuestMemory is the guest address space textures are synchronized with.
// WriteUntracked publishes flushed GPU data without dirtying the handles
// tracking it.
type GuestMemory interface {
	memory.Provider
	WriteUntracked(address uint64, data []byte) error
}

// Device creates host textures on a HAL device.
type Device struct {
	// mu serializes queue and encoder use. Flushes arrive on guest
	// goroutines while the owner uploads.
	mu     sync.Mutex
	device hal.Device
	queue  hal.Queue
	closed bool

	// instance is set when the device was opened by this package.
	instance hal.Instance

	mem GuestMemory
}

// NewDevice wraps an open HAL device and queue. The caller keeps
// ownership of both; Close only waits for idle.
func NewDevice(device hal.Device, queue hal.Queue, mem GuestMemory) *Device {
	return &Device{
		device: device,
		queue:  queue,
		mem:    mem,
	}
}

// OpenSoftware opens the first adapter of the headless software backend.
func OpenSoftware(mem GuestMemory) (*Device, error) {
	backend := software.API{}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("hostgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("hostgpu: open adapter: %w", err)
	}

	d := NewDevice(open.Device, open.Queue, mem)
	d.instance = instance

	d.log().Debug("hostgpu: software device opened", "adapter", adapters[0].Info.Name)
	return d, nil
}

func (d *Device) log() *slog.Logger {
	return texsync.Logger()
}

// Memory returns the guest memory of the device.
func (d *Device) Memory() GuestMemory {
	return d.mem
}

// Close waits for outstanding GPU work. Devices opened by OpenSoftware
// are destroyed as well.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	err := d.device.WaitIdle()
	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
	}
	if err != nil {
		return fmt.Errorf("hostgpu: wait idle: %w", err)
	}
	return nil
}

// NewStorage creates a storage texture for info backed by the guest
// memory in rng, and loads its current contents.
func (d *Device) NewStorage(info texsync.Info, rng memory.MultiRange, opts ...Option) (*Texture, error) {
	o := defaultStorageOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if _, _, _, ok := texsync.BytesPerBlock(info.Format); !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, info.Format)
	}
	layout, err := texsync.NewSizeInfo(info)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDestroyed
	}
	raw, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: o.label,
		Size: hal.Extent3D{
			Width:              info.Size.Width,
			Height:             info.Size.Height,
			DepthOrArrayLayers: info.Size.DepthOrArrayLayers,
		},
		MipLevelCount: uint32(info.Levels),
		SampleCount:   1,
		Dimension:     info.Dimension,
		Format:        info.Format,
		Usage:         o.usage,
	})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("hostgpu: create texture: %w", err)
	}

	t := &Texture{
		dev:    d,
		raw:    raw,
		info:   info,
		label:  o.label,
		size:   rng.TotalSize(),
		rng:    rng,
		layout: layout,
	}
	t.group = texsync.NewGroup(t, d.mem, texsync.WithLogger(d.log()))

	if err := t.group.Initialize(layout, false, false); err != nil {
		t.group.Dispose()
		d.destroyTexture(raw)
		return nil, err
	}

	t.SynchronizeFull()

	d.log().Debug("hostgpu: storage created",
		"label", o.label, "bytes", layout.TotalSize, "ranges", rng.Count())
	return t, nil
}

func (d *Device) destroyTexture(raw hal.Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.device.DestroyTexture(raw)
	}
}
