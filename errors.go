package texsync

import "errors"

var (
	// ErrInvalidInfo is returned for a texture description with zero
	// levels, slices or extent.
	ErrInvalidInfo = errors.New("texsync: invalid texture info")

	// ErrInvalidLayout is returned when a size layout does not match the
	// storage it is used with.
	ErrInvalidLayout = errors.New("texsync: invalid size layout")

	// ErrDisposed is returned when initializing a disposed group.
	ErrDisposed = errors.New("texsync: group disposed")
)
