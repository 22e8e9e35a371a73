package arena

import (
	"unsafe"

	pkgerrors "github.com/pkg/errors"
	"github.com/vkngwrapper/freelist/memutils"
	"gopkg.in/errgo.v2/fmt/errors"
)

// Alignment is the boundary the base of every Arena is aligned to, so that consumers
// can carve 16-byte-aligned blocks out of acquired memory with offset arithmetic alone.
const Alignment uint = 16

// ErrZeroSize is returned by Arena.Acquire when asked to extend the region by zero bytes.
var ErrZeroSize = pkgerrors.New("cannot extend the region by zero bytes")

// ErrExhausted is returned by Arena.Acquire when the reservation backing the arena has
// no room left for the requested extension.
var ErrExhausted = pkgerrors.New("arena reservation exhausted")

// Arena is a monotonically growing region of contiguous memory. Acquire appends to the
// region by advancing a break pointer within a fixed reservation, in the manner of the
// classic sbrk primitive: every grant borders the previous end of the region, and
// memory is never handed back.
//
// An Arena is exclusively-owned mutable state. It must not be used from more than one
// goroutine at a time.
type Arena struct {
	base     unsafe.Pointer
	capacity int
	brk      int

	unmap func() error
}

// NewBuffer creates an Arena backed by a caller-provided byte slice. The slice must
// remain reachable for the lifetime of the arena. The base address is aligned up to
// Alignment, so up to Alignment-1 bytes of the slice may go unused.
func NewBuffer(buf []byte) (*Arena, error) {
	if len(buf) < int(Alignment) {
		return nil, errors.Newf("buffer of %d bytes is too small to host an arena", len(buf))
	}

	base := unsafe.Pointer(unsafe.SliceData(buf))
	skew := memutils.AlignUp(int(uintptr(base)), Alignment) - int(uintptr(base))

	return &Arena{
		base:     unsafe.Add(base, skew),
		capacity: len(buf) - skew,
	}, nil
}

// Acquire extends the region by size bytes and returns a pointer to the start of the
// newly appended range. The range is contiguous with the previous end of the region
// and is never reused or returned elsewhere. Acquire fails with ErrZeroSize when size
// is not positive and with ErrExhausted when the reservation cannot cover the request.
func (a *Arena) Acquire(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, ErrZeroSize
	}

	if a.brk+size > a.capacity {
		return nil, ErrExhausted
	}

	ptr := unsafe.Add(a.base, a.brk)
	a.brk += size
	return ptr, nil
}

// HighWater returns the number of bytes acquired from this arena so far.
func (a *Arena) HighWater() int {
	return a.brk
}

// Capacity returns the total number of bytes this arena can hand out.
func (a *Arena) Capacity() int {
	return a.capacity
}

// Close releases the reservation backing the arena, if the arena owns one. The region
// itself never shrinks during operation- this exists so the owning process can tear
// the whole reservation down, primarily in tests. Using memory acquired from the arena
// after Close is undefined behavior.
func (a *Arena) Close() error {
	if a.unmap == nil {
		return nil
	}

	err := a.unmap()
	a.unmap = nil
	if err != nil {
		return errors.Note(err, nil, "failed to release the arena reservation")
	}
	return nil
}
