package arena

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"gopkg.in/errgo.v2/fmt/errors"
)

// NewSystem creates an Arena backed by an anonymous memory mapping of capacity bytes.
// The full reservation is mapped up front and Acquire advances through it, which is
// what guarantees that successive grants are contiguous.
//
// The reservation is not released until Close is called.
func NewSystem(capacity int) (*Arena, error) {
	if capacity <= 0 {
		return nil, errors.Newf("arena capacity must be positive, not %d", capacity)
	}

	mapping, err := unix.Mmap(-1, 0, capacity,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, errors.Note(err, nil, "failed to reserve arena memory from the OS")
	}

	return &Arena{
		// mappings are page-aligned, which is more than enough for Alignment
		base:     unsafe.Pointer(unsafe.SliceData(mapping)),
		capacity: len(mapping),
		unmap: func() error {
			return unix.Munmap(mapping)
		},
	}, nil
}
