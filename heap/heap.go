package heap

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freelist/memutils"
	"golang.org/x/exp/slog"
)

// Heap is a first-fit free-list allocator over a monotonically growing region of
// memory. Released blocks are kept on a singly-linked, address-unordered free list
// and are split, reused, and merged with address-adjacent neighbors as allocations
// come and go; the region source is only consulted when no listed block fits.
//
// A Heap is exclusively-owned mutable state: no operation may be invoked concurrently
// with another on the same Heap.
type Heap struct {
	logger *slog.Logger
	source RegionSource

	head *freeNode

	regionBase  unsafe.Pointer
	regionBytes int
	regionCount int

	allocationCount int
	allocationBytes int

	liveTracker
}

var _ memutils.Validatable = &Heap{}

// New creates a Heap that draws region memory from source. A nil logger falls back
// to slog.Default.
func New(logger *slog.Logger, source RegionSource) (*Heap, error) {
	if source == nil {
		return nil, errors.New("a Heap cannot be created without a RegionSource")
	}
	if logger == nil {
		logger = slog.Default()
	}

	memutils.DebugCheckPow2(Alignment, "heap alignment")

	h := &Heap{
		logger: logger,
		source: source,
	}
	h.initTracker()
	return h, nil
}

// Allocate hands out a block of at least size bytes and returns a pointer to its
// payload, which is always aligned to 16 bytes. The first listed free block large
// enough for the request is reused, splitting off whatever slack can host its own
// node; when nothing in the list fits, the region source is asked for fresh memory.
// Fails with ErrInvalidSize when size is not positive, or with the region source's
// error when the region cannot grow. A failed allocation leaves the heap unchanged.
func (h *Heap) Allocate(size int) (unsafe.Pointer, error) {
	h.logger.Debug("Heap::Allocate", slog.Int("size", size))

	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	size = memutils.AlignUp(size, Alignment)

	// first fit, in list (insertion) order
	for node := h.head; node != nil; node = node.next {
		if int(node.size) < size {
			continue
		}

		remainder := splitNode(node, size)
		if remainder != nil {
			// the remainder takes over node's place in the list
			h.replaceNode(node, remainder)
		} else {
			// not enough slack to split- hand out the whole block
			h.removeNode(node)
		}

		return h.commit(unsafe.Pointer(node), size), nil
	}

	return h.allocateFromRegion(size)
}

// AllocateZero allocates a block for count elements of size bytes each and zero-fills
// the whole payload. The count*size product is deliberately unguarded against
// overflow; callers own their arithmetic. Fails with ErrInvalidSize when the product
// is zero.
func (h *Heap) AllocateZero(count, size int) (unsafe.Pointer, error) {
	h.logger.Debug("Heap::AllocateZero", slog.Int("count", count), slog.Int("size", size))

	total := count * size
	if total == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d elements of %d bytes", count, size)
	}

	ptr, err := h.Allocate(total)
	if err != nil {
		return nil, err
	}

	memZero(ptr, total)
	return ptr, nil
}

// Resize grows an allocation to at least newSize bytes. A nil ptr behaves as
// Allocate(newSize); a zero newSize behaves as Free(ptr) and yields nil. A block
// whose recorded size already covers newSize is returned unchanged, keeping its
// original footprint. Otherwise a fresh block is allocated, the old payload copied
// into it, and the new pointer returned; on allocation failure the original block is
// left exactly as it was.
//
// The original block is not released after a successful growth- it remains live and
// owned by the caller.
func (h *Heap) Resize(ptr unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	h.logger.Debug("Heap::Resize", slog.Int("newSize", newSize))

	if ptr == nil {
		return h.Allocate(newSize)
	}

	if newSize == 0 {
		h.Free(ptr)
		return nil, nil
	}

	if newSize < 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", newSize)
	}

	hdr := headerFromPayload(ptr)
	oldSize := int(hdr.size)
	if oldSize >= newSize {
		// no shrink, no split of the excess
		return ptr, nil
	}

	newPtr, err := h.Allocate(newSize)
	if err != nil {
		return nil, err
	}

	memCopy(newPtr, ptr, oldSize)
	return newPtr, nil
}

// Free returns the block behind ptr to the free list and merges it with any
// address-adjacent free neighbors. ptr must be a payload pointer produced by this
// heap. When the header's sentinel does not match, the block's true extent can no
// longer be trusted: Free reports the corruption and terminates the process, since
// there is no recovery path. A release that corrupted memory without damaging the
// sentinel goes undetected.
func (h *Heap) Free(ptr unsafe.Pointer) {
	h.logger.Debug("Heap::Free")

	hdr := headerFromPayload(ptr)
	if hdr.sentinel != headerSentinel {
		h.reportCorruption(ptr, hdr)
	}

	h.trackFree(ptr)
	size := int(hdr.size)

	node := (*freeNode)(unsafe.Pointer(hdr))
	// size occupies the same slot in both layouts; only the link needs initializing
	node.next = h.head
	h.head = node

	h.coalesce(node)

	h.allocationCount--
	h.allocationBytes -= size

	memutils.DebugValidate(h)
}

// allocateFromRegion claims a fresh block from the region source, bypassing the free
// list entirely.
func (h *Heap) allocateFromRegion(size int) (unsafe.Pointer, error) {
	raw, err := h.source.Acquire(size + headerSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extend the region by %d bytes", size+headerSize)
	}

	if h.regionBase == nil {
		h.regionBase = raw
	}
	h.regionBytes += size + headerSize
	h.regionCount++

	return h.commit(raw, size), nil
}

// commit stamps a header over the first headerSize bytes of block and returns the
// payload pointer just past it. size is the caller-visible payload size; the block's
// true footprint may be larger.
func (h *Heap) commit(block unsafe.Pointer, size int) unsafe.Pointer {
	hdr := (*blockHeader)(block)
	hdr.size = uint64(size)
	hdr.sentinel = headerSentinel

	h.allocationCount++
	h.allocationBytes += size

	ptr := payloadFromHeader(hdr)
	h.trackAllocate(ptr, size)
	memutils.DebugValidate(h)
	return ptr
}

// reportCorruption handles a sentinel mismatch on release. There is deliberately no
// way to recover: the process reports the condition and terminates.
func (h *Heap) reportCorruption(ptr unsafe.Pointer, hdr *blockHeader) {
	h.logger.Error("Heap::Free MEMORY CORRUPTION DETECTED",
		slog.Uint64("sentinel", uint64(hdr.sentinel)),
		slog.Uint64("recordedSize", hdr.size),
	)
	fmt.Fprintf(os.Stderr, "MEMORY CORRUPTION DETECTED: block at %p carries sentinel %#x, want %#x\n",
		ptr, hdr.sentinel, headerSentinel)
	os.Exit(2)
}
