// Package texsync keeps GPU-resident texture data coherent with the guest
// physical memory it aliases.
//
// # Overview
//
// A storage texture owns a byte range of guest memory, possibly split
// across several disjoint physical sub-ranges. Views alias layer and level
// sub-ranges of the storage. Guest writes make the GPU copy stale (dirty);
// GPU writes make guest memory stale (modified). A Group tracks both
// directions for one storage and all of its views.
//
// # Quick Start
//
//	mem, _ := memory.NewPhysicalMemory(1 << 24)
//	g := texsync.NewGroup(storage, mem)
//	size, _ := texsync.NewSizeInfo(storage.Info())
//	_ = g.Initialize(size, false, false)
//
//	// Before each use of a texture:
//	g.SynchronizeMemory(tex)
//
//	// After the GPU renders into a texture:
//	g.SignalModified(tex, true)
//
// # Granularity
//
// A new group tracks the storage with a single handle. As views that cover
// fewer layers or levels than the storage appear, UpdateViews subdivides
// tracking per layer, per level or per (layer, level). Granularity never
// becomes coarser again for the lifetime of the group.
//
// 2D and array textures store all levels of a layer contiguously. 3D
// textures store all depth slices of a level contiguously, and the depth
// halves at each level.
//
// # Concurrency
//
// Orchestration methods (Initialize, CheckDirty, SynchronizeMemory,
// UpdateViews, Inherit, CreateCopyDependency, Dispose) must be called from
// a single goroutine, the one issuing GPU commands. Dirty and flush
// callbacks arrive from arbitrary guest goroutines and only touch atomic
// state and lock-guarded overlap lists.
//
// # Packages
//
//   - memory: ranges, the region handle and provider interfaces, and a
//     reference PhysicalMemory with software write tracking
//   - hostgpu: Storage textures over github.com/gogpu/wgpu/hal
//   - cmd/texsync-replay: replays TOML scenarios against the tracker
package texsync
