//go:build linux || darwin || freebsd || netbsd || openbsd

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocArena reserves size bytes of anonymous, zero-filled memory.
// The returned release function unmaps it.
func allocArena(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: mmap arena of %d bytes: %w", size, err)
	}

	return data, func() error { return unix.Munmap(data) }, nil
}
