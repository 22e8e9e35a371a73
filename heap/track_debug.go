//go:build debug_heap

package heap

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/freelist/memutils"
)

// liveTracker is a debug_heap-only registry of live allocations keyed by payload
// address. It enriches DetailedStatistics and Validate with per-allocation knowledge
// the release-mode heap does not keep. Release builds carry an empty struct and
// detect nothing beyond the header sentinel.
type liveTracker struct {
	live *swiss.Map[uintptr, int]
}

func (t *liveTracker) initTracker() {
	t.live = swiss.NewMap[uintptr, int](64)
}

func (t *liveTracker) trackAllocate(ptr unsafe.Pointer, size int) {
	t.live.Put(uintptr(ptr), size)
}

func (t *liveTracker) trackFree(ptr unsafe.Pointer) {
	if !t.live.Has(uintptr(ptr)) {
		panic(errors.Newf("freeing %p, which is not a live allocation of this heap", ptr))
	}
	t.live.Delete(uintptr(ptr))
}

func (h *Heap) addAllocationDetails(stats *memutils.DetailedStatistics) {
	h.live.Iter(func(_ uintptr, size int) bool {
		stats.AddAllocation(size)
		return false
	})
}

func (h *Heap) validateTracker() error {
	if h.live.Count() != h.allocationCount {
		return errors.Newf("the heap counts %d live allocations but the debug tracker holds %d",
			h.allocationCount, h.live.Count())
	}
	return nil
}
