// Package hostgpu backs texsync groups with textures on a wgpu HAL device.
//
// A storage texture owns a hal.Texture and the texsync.Group tracking its
// guest memory. Views alias a layer/level window of their storage and share
// its hal.Texture.
//
//	mem, _ := memory.NewPhysicalMemory(1 << 24)
//	dev, _ := hostgpu.OpenSoftware(mem)
//	defer dev.Close()
//
//	tex, _ := dev.NewStorage(info, memory.NewMultiRange(memory.Range{Address: 0x10000, Size: size}))
//	view, _ := tex.CreateView(2, 0, 1, 1)
//
//	view.Use()                 // load guest writes before sampling
//	view.SignalModified(false) // after rendering; guest reads flush back
//
// Uploads go through Queue.WriteTexture, copy dependencies through
// CopyTextureToTexture, and flushes read back through a mapped staging
// buffer.
//
// # Thread Safety
//
// Use, SignalModified, CreateView, RemoveView and Release belong to the
// goroutine that owns the storage. ExternalFlush runs on whatever goroutine
// touches flushed guest memory; queue access is serialized by the Device.
package hostgpu
