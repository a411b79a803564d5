//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package memory

// allocArena allocates the arena on the Go heap on platforms without mmap.
func allocArena(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
