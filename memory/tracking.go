package memory

// RegionHandle tracks CPU writes to one contiguous physical range.
//
// The dirty flag is set asynchronously by whatever goroutine performs the
// guest write, so Dirty and Unmapped may change at any time. Everything else
// is called from the goroutine that owns the handle.
type RegionHandle interface {
	// Address returns the first tracked address.
	Address() uint64

	// Size returns the number of tracked bytes.
	Size() uint64

	// Dirty reports whether the range was written since the last Reprotect.
	Dirty() bool

	// Unmapped reports whether the range is currently not backed by memory.
	Unmapped() bool

	// Reprotect re-arms write tracking. If asDirty is true the handle keeps
	// reporting dirty until the next Reprotect, without firing dirty events.
	Reprotect(asDirty bool)

	// RegisterDirtyEvent registers fn to run each time the handle goes from
	// clean to dirty. fn runs on the writing goroutine and must not block.
	RegisterDirtyEvent(fn func())

	// RegisterAction registers a one-shot action invoked with the address
	// and size of the next access that touches the range. The access does
	// not complete until the action returns.
	RegisterAction(fn func(address, size uint64))

	// OverlapsWith reports whether the handle intersects [address, address+size).
	OverlapsWith(address, size uint64) bool

	// Dispose stops tracking. Calling Dispose more than once has no effect.
	Dispose()
}

// Provider is physical memory that can be read and tracked.
type Provider interface {
	// GetSpan reads the bytes of a multi-range without triggering any
	// tracking action. Unmapped sub-ranges read as zeros.
	GetSpan(r MultiRange) []byte

	// BeginTracking starts tracking writes to [address, address+size).
	// The returned handle starts dirty.
	BeginTracking(address, size uint64) RegionHandle
}
