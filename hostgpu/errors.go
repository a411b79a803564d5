package hostgpu

import "errors"

// Host texture errors.
var (
	// ErrUnsupportedFormat is returned for formats without a known texel block.
	ErrUnsupportedFormat = errors.New("hostgpu: unsupported texture format")

	// ErrForeignTexture is returned when a texture from another device or
	// backend is passed in.
	ErrForeignTexture = errors.New("hostgpu: texture does not belong to this device")

	// ErrViewOutOfRange is returned when a view exceeds its storage.
	ErrViewOutOfRange = errors.New("hostgpu: view out of range")

	// ErrDestroyed is returned when operating on a released texture or a
	// closed device.
	ErrDestroyed = errors.New("hostgpu: texture has been destroyed")

	// ErrNoAdapter is returned when the backend exposes no adapter.
	ErrNoAdapter = errors.New("hostgpu: no adapter available")
)
