package heap

import "github.com/vkngwrapper/freelist/memutils"

// AllocationCount returns the number of live allocations.
func (h *Heap) AllocationCount() int {
	return h.allocationCount
}

// AllocationBytes returns the number of payload bytes currently handed out to
// callers, headers excluded.
func (h *Heap) AllocationBytes() int {
	return h.allocationBytes
}

// RegionBytes returns the total number of bytes claimed from the region source so
// far: the region's high-water mark. It only ever grows.
func (h *Heap) RegionBytes() int {
	return h.regionBytes
}

// IsEmpty returns true when the heap has no live allocations.
func (h *Heap) IsEmpty() bool {
	return h.allocationCount == 0
}

// FreeRegionsCount walks the free list and returns the number of free blocks in it.
func (h *Heap) FreeRegionsCount() int {
	count := 0
	for node := h.head; node != nil; node = node.next {
		count++
	}
	return count
}

// SumFreeSize walks the free list and returns the total reusable bytes in it, node
// headers excluded.
func (h *Heap) SumFreeSize() int {
	size := 0
	for node := h.head; node != nil; node = node.next {
		size += int(node.size)
	}
	return size
}

// AddStatistics sums this heap's counters into the statistics currently present in
// the provided memutils.Statistics object.
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	stats.RegionCount += h.regionCount
	stats.RegionBytes += h.regionBytes
	stats.AllocationCount += h.allocationCount
	stats.AllocationBytes += h.allocationBytes
}

// AddDetailedStatistics sums this heap's counters and free-range information into the
// statistics currently present in the provided memutils.DetailedStatistics object.
// Allocation size extrema are only populated in debug_heap builds, where the heap can
// enumerate its live allocations.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	h.AddStatistics(&stats.Statistics)

	for node := h.head; node != nil; node = node.next {
		stats.AddFreeRange(int(node.size))
	}

	h.addAllocationDetails(stats)
}
