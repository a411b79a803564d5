package hostgpu

import "github.com/gogpu/gputypes"

// Option configures a storage texture.
type Option func(*storageOptions)

type storageOptions struct {
	usage gputypes.TextureUsage
	label string
}

func defaultStorageOptions() storageOptions {
	return storageOptions{
		usage: gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding,
		label: "texsync_storage",
	}
}

// WithUsage sets the usage of the HAL texture. Copy source and destination
// are always added since synchronization needs them.
func WithUsage(usage gputypes.TextureUsage) Option {
	return func(o *storageOptions) {
		o.usage = usage | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	}
}

// WithLabel sets the debug label of the HAL texture.
func WithLabel(label string) Option {
	return func(o *storageOptions) {
		o.label = label
	}
}
