package hostgpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/texsync"
	"github.com/gogpu/texsync/memory"
	"github.com/gogpu/wgpu/hal"
)

// copyPitchAlignment is the row pitch alignment required for buffer
// copies.
const copyPitchAlignment = 256

// ConvertToHostCompatibleFormat implements texsync.Storage. Guest and
// host formats are identical.
func (t *Texture) ConvertToHostCompatibleFormat(data []byte, _ int) []byte {
	return data
}

// SetData implements texsync.Storage. layer and level are relative to t.
func (t *Texture) SetData(data []byte, layer, level int) {
	layer, level = t.absolute(layer, level)
	s := t.root()
	if err := s.upload(data, layer, level); err != nil {
		t.dev.log().Warn("hostgpu: upload failed", "label", t.label,
			"layer", layer, "level", level, "err", err)
	}
}

// SynchronizeFull implements texsync.Texture by uploading every
// subresource of t from guest memory.
func (t *Texture) SynchronizeFull() {
	s := t.root()
	mem := t.dev.mem

	for layer, level := range t.subresources() {
		offset, size := s.span(layer, level)
		data := mem.GetSpan(s.rng.Slice(uint64(offset), uint64(size)))
		data = s.ConvertToHostCompatibleFormat(data, level)
		if err := s.upload(data, layer, level); err != nil {
			t.dev.log().Warn("hostgpu: upload failed", "label", t.label,
				"layer", layer, "level", level, "err", err)
		}
	}
}

// copyRegion describes one subresource in texel blocks.
type copyRegion struct {
	extent   hal.Extent3D
	rowBytes uint32
	rows     uint32
}

// region returns the copy region of a storage level. The extent is
// rounded up to whole blocks.
func (t *Texture) region(level int) copyRegion {
	bytes, bw, bh, _ := texsync.BytesPerBlock(t.info.Format)
	w := max(int(t.info.Size.Width)>>level, 1)
	h := max(int(t.info.Size.Height)>>level, 1)
	cols := (w + bw - 1) / bw
	rows := (h + bh - 1) / bh
	return copyRegion{
		extent:   hal.Extent3D{Width: uint32(cols * bw), Height: uint32(rows * bh), DepthOrArrayLayers: 1},
		rowBytes: uint32(cols * bytes),
		rows:     uint32(rows),
	}
}

func (t *Texture) imageCopy(layer, level int) hal.ImageCopyTexture {
	return hal.ImageCopyTexture{
		Texture:  t.raw,
		MipLevel: uint32(level),
		Origin:   hal.Origin3D{Z: uint32(layer)},
		Aspect:   gputypes.TextureAspectAll,
	}
}

// upload writes one storage subresource.
func (t *Texture) upload(data []byte, layer, level int) error {
	r := t.region(level)
	dst := t.imageCopy(layer, level)

	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.dev.closed || t.released.Load() {
		return ErrDestroyed
	}

	err := t.dev.queue.WriteTexture(&dst, data,
		&hal.ImageDataLayout{BytesPerRow: r.rowBytes, RowsPerImage: r.rows}, &r.extent)
	if err != nil {
		return fmt.Errorf("write texture: %w", err)
	}
	t.uploads.Add(1)
	return nil
}

// CopyTo implements texsync.Storage. dst must be a texture of the same
// device.
func (t *Texture) CopyTo(dst texsync.Storage, srcLayer, dstLayer, srcLevel, dstLevel int) {
	target, ok := dst.(*Texture)
	if !ok || target.dev != t.dev {
		t.dev.log().Warn("hostgpu: copy skipped", "label", t.label, "err", ErrForeignTexture)
		return
	}

	srcLayer, srcLevel = t.absolute(srcLayer, srcLevel)
	dstLayer, dstLevel = target.absolute(dstLayer, dstLevel)
	if err := t.root().copyTo(target.root(), srcLayer, dstLayer, srcLevel, dstLevel); err != nil {
		t.dev.log().Warn("hostgpu: copy failed", "label", t.label, "err", err)
	}
}

func (t *Texture) copyTo(dst *Texture, srcLayer, dstLayer, srcLevel, dstLevel int) error {
	sr := t.region(srcLevel)
	dr := dst.region(dstLevel)
	extent := hal.Extent3D{
		Width:              min(sr.extent.Width, dr.extent.Width),
		Height:             min(sr.extent.Height, dr.extent.Height),
		DepthOrArrayLayers: 1,
	}

	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.dev.closed {
		return ErrDestroyed
	}

	encoder, err := t.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "texsync_copy"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("texsync_copy"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	encoder.CopyTextureToTexture(t.raw, dst.raw, []hal.TextureCopy{{
		SrcBase: t.imageCopy(srcLayer, srcLevel),
		DstBase: dst.imageCopy(dstLayer, dstLevel),
		Size:    extent,
	}})

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer t.dev.device.FreeCommandBuffer(cmd)

	if _, err := t.dev.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// ExternalFlush implements texsync.Texture. Every subresource of t
// overlapping [address, address+size) is read back and written to guest
// memory before it returns.
func (t *Texture) ExternalFlush(address, size uint64) {
	s := t.root()

	for layer, level := range t.subresources() {
		offset, n := s.span(layer, level)
		sub := s.rng.Slice(uint64(offset), uint64(n))
		if !overlapsMapped(sub, address, size) {
			continue
		}

		data, err := s.readback(layer, level)
		if err != nil {
			t.dev.log().Warn("hostgpu: flush failed", "label", t.label,
				"layer", layer, "level", level, "err", err)
			continue
		}
		if err := writeGuest(t.dev.mem, sub, data); err != nil {
			t.dev.log().Warn("hostgpu: flush write failed", "label", t.label, "err", err)
		}
	}

	t.flushes.Add(1)
}

func overlapsMapped(mr memory.MultiRange, address, size uint64) bool {
	for _, r := range mr.Ranges() {
		if !r.IsUnmapped() && r.OverlapsWith(address, size) {
			return true
		}
	}
	return false
}

// writeGuest scatters data over the mapped sub-ranges of mr.
func writeGuest(mem GuestMemory, mr memory.MultiRange, data []byte) error {
	var pos uint64
	for _, r := range mr.Ranges() {
		end := min(pos+r.Size, uint64(len(data)))
		if !r.IsUnmapped() && pos < end {
			if err := mem.WriteUntracked(r.Address, data[pos:end]); err != nil {
				return err
			}
		}
		pos += r.Size
	}
	return nil
}

// readback copies one storage subresource into a staging buffer and
// returns its tightly packed bytes.
func (t *Texture) readback(layer, level int) ([]byte, error) {
	r := t.region(level)
	stride := (r.rowBytes + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(stride) * uint64(r.rows)

	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.dev.closed || t.released.Load() {
		return nil, ErrDestroyed
	}
	device := t.dev.device

	staging, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "texsync_readback",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer device.DestroyBuffer(staging)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "texsync_readback"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("texsync_readback"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	encoder.CopyTextureToBuffer(t.raw, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: stride, RowsPerImage: r.rows},
		TextureBase:  t.imageCopy(layer, level),
		Size:         r.extent,
	}})

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmd)

	if _, err := t.dev.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if err := device.WaitIdle(); err != nil {
		return nil, fmt.Errorf("wait idle: %w", err)
	}

	mapping, err := device.MapBuffer(staging, 0, stagingSize)
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	mapped := unsafe.Slice((*byte)(mapping.Ptr), stagingSize) //nolint:gosec // mapping covers stagingSize bytes

	// Strip row padding.
	out := make([]byte, int(r.rowBytes)*int(r.rows))
	for row := range int(r.rows) {
		src := row * int(stride)
		copy(out[row*int(r.rowBytes):(row+1)*int(r.rowBytes)], mapped[src:src+int(r.rowBytes)])
	}

	if err := device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("unmap staging buffer: %w", err)
	}
	return out, nil
}
