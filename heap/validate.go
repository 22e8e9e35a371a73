package heap

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/freelist/memutils"
)

// Validate performs consistency checks across the whole heap structure: every free
// node must lie inside the managed region on an aligned address, the list must be
// acyclic, no two free blocks may overlap or sit unmerged next to each other, and the
// allocated and free footprints must account for every acquired byte. When the
// allocator is functioning correctly this cannot return an error, but it is useful
// when diagnosing the list algorithms or suspected corruption.
func (h *Heap) Validate() error {
	if h.head != nil && h.regionBase == nil {
		return errors.New("the free list is non-empty but no region memory was ever acquired")
	}

	regionEnd := unsafe.Add(h.regionBase, h.regionBytes)

	visited := 0
	freeCount := 0
	freeBytes := 0
	for node := h.head; node != nil; node = node.next {
		visited++
		if visited > h.regionBytes/nodeSize {
			return errors.New("the free list holds more nodes than the region could: cycle suspected")
		}

		start := uintptr(unsafe.Pointer(node))
		if start < uintptr(h.regionBase) || start >= uintptr(regionEnd) {
			return errors.Newf("free node %p lies outside the managed region", unsafe.Pointer(node))
		}
		if uintptr(nodeEnd(node)) > uintptr(regionEnd) {
			return errors.Newf("free node %p extends past the end of the managed region", unsafe.Pointer(node))
		}
		if !memutils.IsAligned(int(start), Alignment) {
			return errors.Newf("free node %p is not aligned", unsafe.Pointer(node))
		}
		if !memutils.IsAligned(int(node.size), Alignment) {
			return errors.Newf("free node %p carries unaligned size %d", unsafe.Pointer(node), node.size)
		}

		freeCount++
		freeBytes += int(node.size)
	}

	for a := h.head; a != nil; a = a.next {
		aStart := uintptr(unsafe.Pointer(a))
		aEnd := uintptr(nodeEnd(a))

		for b := h.head; b != nil; b = b.next {
			if a == b {
				continue
			}

			bStart := uintptr(unsafe.Pointer(b))
			if bStart >= aStart && bStart < aEnd {
				return errors.Newf("free nodes %p and %p overlap", unsafe.Pointer(a), unsafe.Pointer(b))
			}
			if bStart == aEnd {
				return errors.Newf("free nodes %p and %p are address-adjacent but unmerged", unsafe.Pointer(a), unsafe.Pointer(b))
			}
		}
	}

	liveFootprint := h.allocationBytes + h.allocationCount*headerSize
	freeFootprint := freeBytes + freeCount*nodeSize
	if liveFootprint+freeFootprint != h.regionBytes {
		return errors.Newf(
			"the region holds %d bytes but the blocks only account for %d allocated and %d free",
			h.regionBytes, liveFootprint, freeFootprint)
	}

	return h.validateTracker()
}
