package heap_test

import (
	"encoding/json"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/freelist/arena"
	"github.com/vkngwrapper/freelist/heap"
	mock_heap "github.com/vkngwrapper/freelist/heap/mocks"
	"github.com/vkngwrapper/freelist/memutils"
	"go.uber.org/mock/gomock"
)

func newTestHeap(t *testing.T, capacity int) (*heap.Heap, *arena.Arena) {
	t.Helper()

	buf := make([]byte, capacity)
	for i := range buf {
		buf[i] = 0xAA
	}

	a, err := arena.NewBuffer(buf)
	require.NoError(t, err)

	h, err := heap.New(nil, a)
	require.NoError(t, err)

	return h, a
}

func TestNewRequiresSource(t *testing.T) {
	_, err := heap.New(nil, nil)
	require.Error(t, err)
}

func TestAllocateAlignmentAndUsability(t *testing.T) {
	h, _ := newTestHeap(t, 1<<16)

	for _, size := range []int{1, 7, 16, 24, 100, 1000} {
		ptr, err := h.Allocate(size)
		require.NoError(t, err)
		require.NotNil(t, ptr)
		require.Zero(t, uintptr(ptr)%uintptr(heap.Alignment))

		payload := unsafe.Slice((*byte)(ptr), size)
		for i := range payload {
			payload[i] = byte(i)
		}
		for i := range payload {
			require.Equal(t, byte(i), payload[i])
		}
	}

	require.NoError(t, h.Validate())
}

func TestAllocateInvalidSize(t *testing.T) {
	h, a := newTestHeap(t, 4096)

	ptr, err := h.Allocate(0)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, heap.ErrInvalidSize)

	ptr, err = h.Allocate(-32)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, heap.ErrInvalidSize)

	require.Zero(t, a.HighWater())
}

func TestAllocateOutOfMemory(t *testing.T) {
	// too small to host even one 64-byte block plus its header
	h, _ := newTestHeap(t, 64)

	ptr, err := h.Allocate(64)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, arena.ErrExhausted)

	// the failure must leave the heap consistent and usable
	require.NoError(t, h.Validate())
	ptr, err = h.Allocate(16)
	require.NoError(t, err)
	require.NotNil(t, ptr)
}

func TestAllocateZeroFills(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	// dirty the block first so the zero-fill has something to erase
	ptr, err := h.Allocate(100)
	require.NoError(t, err)
	payload := unsafe.Slice((*byte)(ptr), 100)
	for i := range payload {
		payload[i] = 0xFF
	}
	h.Free(ptr)

	zeroed, err := h.AllocateZero(4, 25)
	require.NoError(t, err)
	require.Equal(t, ptr, zeroed)

	payload = unsafe.Slice((*byte)(zeroed), 100)
	for i := range payload {
		require.Zero(t, payload[i])
	}
}

func TestAllocateZeroInvalidCounts(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	ptr, err := h.AllocateZero(0, 64)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, heap.ErrInvalidSize)

	ptr, err = h.AllocateZero(64, 0)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, heap.ErrInvalidSize)
}

func TestFreeThenAllocateReusesBlock(t *testing.T) {
	h, a := newTestHeap(t, 1<<16)

	ptr, err := h.Allocate(100)
	require.NoError(t, err)

	highWater := a.HighWater()
	h.Free(ptr)
	require.Equal(t, 1, h.FreeRegionsCount())

	again, err := h.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, ptr, again)
	require.Equal(t, highWater, a.HighWater())
	require.Zero(t, h.FreeRegionsCount())
}

func TestFreeThenAllocateSmallerSplitsBlock(t *testing.T) {
	h, a := newTestHeap(t, 1<<16)

	ptr, err := h.Allocate(256)
	require.NoError(t, err)

	highWater := a.HighWater()
	h.Free(ptr)

	first, err := h.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, ptr, first)
	require.Equal(t, highWater, a.HighWater())

	// the remainder stays in the list in the original node's place
	require.Equal(t, 1, h.FreeRegionsCount())
	require.Equal(t, 256-64-16, h.SumFreeSize())

	// and the next allocation carves it further, immediately past the first piece
	second, err := h.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, uintptr(first)+64+16, uintptr(second))
	require.Equal(t, highWater, a.HighWater())

	require.NoError(t, h.Validate())
}

func TestCoalesceAdjacentBlocks(t *testing.T) {
	orders := map[string]bool{"ascending": true, "descending": false}

	for name, ascending := range orders {
		t.Run(name, func(t *testing.T) {
			h, a := newTestHeap(t, 1<<16)

			first, err := h.Allocate(64)
			require.NoError(t, err)
			second, err := h.Allocate(64)
			require.NoError(t, err)
			require.Equal(t, uintptr(first)+64+16, uintptr(second))

			highWater := a.HighWater()

			if ascending {
				h.Free(first)
				h.Free(second)
			} else {
				h.Free(second)
				h.Free(first)
			}

			// one merged entry: both payloads plus the swallowed header
			require.Equal(t, 1, h.FreeRegionsCount())
			require.Equal(t, 64+64+16, h.SumFreeSize())
			require.NoError(t, h.Validate())

			// an allocation sized to the merged block must not grow the region
			merged, err := h.Allocate(128)
			require.NoError(t, err)
			require.Equal(t, first, merged)
			require.Equal(t, highWater, a.HighWater())
		})
	}
}

func TestCoalesceBothDirections(t *testing.T) {
	h, _ := newTestHeap(t, 1<<16)

	first, err := h.Allocate(64)
	require.NoError(t, err)
	second, err := h.Allocate(64)
	require.NoError(t, err)
	third, err := h.Allocate(64)
	require.NoError(t, err)

	// free the middle block last so it merges with both neighbors at once
	h.Free(first)
	h.Free(third)
	require.Equal(t, 2, h.FreeRegionsCount())

	h.Free(second)
	require.Equal(t, 1, h.FreeRegionsCount())
	require.Equal(t, 64*3+16*2, h.SumFreeSize())
	require.NoError(t, h.Validate())
}

func TestFirstFitFollowsInsertionOrder(t *testing.T) {
	h, a := newTestHeap(t, 1<<16)

	var ptrs []unsafe.Pointer
	for i := 0; i < 5; i++ {
		ptr, err := h.Allocate(64)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}

	// non-adjacent, so they stay separate entries: list order is [3, 1]
	h.Free(ptrs[1])
	h.Free(ptrs[3])
	require.Equal(t, 2, h.FreeRegionsCount())

	highWater := a.HighWater()

	ptr, err := h.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, ptrs[3], ptr)

	ptr, err = h.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, ptrs[1], ptr)

	require.Equal(t, highWater, a.HighWater())
}

func TestResizeNilAllocates(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	ptr, err := h.Resize(nil, 64)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.Equal(t, 1, h.AllocationCount())
}

func TestResizeZeroFrees(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	ptr, err := h.Allocate(64)
	require.NoError(t, err)

	result, err := h.Resize(ptr, 0)
	require.NoError(t, err)
	require.Nil(t, result)
	require.True(t, h.IsEmpty())
	require.Equal(t, 1, h.FreeRegionsCount())
}

func TestResizeWithinRecordedSizeReturnsSamePointer(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	ptr, err := h.Allocate(100)
	require.NoError(t, err)

	same, err := h.Resize(ptr, 50)
	require.NoError(t, err)
	require.Equal(t, ptr, same)

	// 100 rounds up to 112, so a grow inside the rounded footprint is also in place
	same, err = h.Resize(ptr, 112)
	require.NoError(t, err)
	require.Equal(t, ptr, same)

	require.Equal(t, 1, h.AllocationCount())
}

func TestResizeGrowthCopiesPayload(t *testing.T) {
	h, _ := newTestHeap(t, 1<<16)

	ptr, err := h.Allocate(64)
	require.NoError(t, err)
	payload := unsafe.Slice((*byte)(ptr), 64)
	for i := range payload {
		payload[i] = byte(0x80 | i)
	}

	grown, err := h.Resize(ptr, 256)
	require.NoError(t, err)
	require.NotEqual(t, ptr, grown)

	grownPayload := unsafe.Slice((*byte)(grown), 256)
	for i := 0; i < 64; i++ {
		require.Equal(t, byte(0x80|i), grownPayload[i])
	}

	// the original block is not released on growth; both stay live
	require.Equal(t, 2, h.AllocationCount())
	require.NoError(t, h.Validate())
}

func TestResizeFailureLeavesOriginalIntact(t *testing.T) {
	// room for the first block but nowhere near enough for the grown copy
	h, _ := newTestHeap(t, 160)

	ptr, err := h.Allocate(64)
	require.NoError(t, err)
	payload := unsafe.Slice((*byte)(ptr), 64)
	for i := range payload {
		payload[i] = 0x3E
	}

	grown, err := h.Resize(ptr, 4096)
	require.Nil(t, grown)
	require.ErrorIs(t, err, arena.ErrExhausted)

	for i := range payload {
		require.Equal(t, byte(0x3E), payload[i])
	}
	require.Equal(t, 1, h.AllocationCount())

	// still a valid block: releasing it must work
	h.Free(ptr)
	require.True(t, h.IsEmpty())
	require.NoError(t, h.Validate())
}

func TestResizeNegativeSize(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	ptr, err := h.Allocate(64)
	require.NoError(t, err)

	result, err := h.Resize(ptr, -1)
	require.Nil(t, result)
	require.ErrorIs(t, err, heap.ErrInvalidSize)
	require.Equal(t, 1, h.AllocationCount())
}

func TestRegionSourceCalledOncePerMiss(t *testing.T) {
	ctrl := gomock.NewController(t)

	backing, err := arena.NewBuffer(make([]byte, 4096))
	require.NoError(t, err)

	source := mock_heap.NewMockRegionSource(ctrl)
	// exactly one extension: the second allocation must come from the free list
	source.EXPECT().Acquire(64+16).DoAndReturn(backing.Acquire).Times(1)

	h, err := heap.New(nil, source)
	require.NoError(t, err)

	ptr, err := h.Allocate(64)
	require.NoError(t, err)

	h.Free(ptr)

	again, err := h.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, ptr, again)
}

func TestRegionSourceFailurePropagates(t *testing.T) {
	ctrl := gomock.NewController(t)

	source := mock_heap.NewMockRegionSource(ctrl)
	source.EXPECT().Acquire(gomock.Any()).DoAndReturn(func(size int) (unsafe.Pointer, error) {
		return nil, arena.ErrExhausted
	})

	h, err := heap.New(nil, source)
	require.NoError(t, err)

	ptr, err := h.Allocate(64)
	require.Nil(t, ptr)
	require.ErrorIs(t, err, arena.ErrExhausted)
	require.True(t, h.IsEmpty())
}

func TestStatistics(t *testing.T) {
	h, _ := newTestHeap(t, 1<<16)

	first, err := h.Allocate(100)
	require.NoError(t, err)
	_, err = h.Allocate(200)
	require.NoError(t, err)

	h.Free(first)

	require.Equal(t, 1, h.AllocationCount())
	require.Equal(t, 208, h.AllocationBytes())
	require.Equal(t, 112+16+208+16, h.RegionBytes())
	require.Equal(t, 112, h.SumFreeSize())
	require.False(t, h.IsEmpty())

	var stats memutils.Statistics
	h.AddStatistics(&stats)
	require.Equal(t, 2, stats.RegionCount)
	require.Equal(t, h.RegionBytes(), stats.RegionBytes)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 208, stats.AllocationBytes)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	h.AddDetailedStatistics(&detailed)
	require.Equal(t, 1, detailed.FreeRangeCount)
	require.Equal(t, 112, detailed.FreeRangeSizeMin)
	require.Equal(t, 112, detailed.FreeRangeSizeMax)
}

func TestBuildStatsString(t *testing.T) {
	h, _ := newTestHeap(t, 1<<16)

	first, err := h.Allocate(64)
	require.NoError(t, err)
	_, err = h.Allocate(64)
	require.NoError(t, err)
	h.Free(first)

	var snapshot struct {
		RegionBytes      int
		RegionExtensions int
		Allocations      int
		AllocatedBytes   int
		FreeRegions      []struct {
			Offset int
			Size   int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(h.BuildStatsString()), &snapshot))

	require.Equal(t, 160, snapshot.RegionBytes)
	require.Equal(t, 2, snapshot.RegionExtensions)
	require.Equal(t, 1, snapshot.Allocations)
	require.Equal(t, 64, snapshot.AllocatedBytes)
	require.Len(t, snapshot.FreeRegions, 1)
	require.Equal(t, 0, snapshot.FreeRegions[0].Offset)
	require.Equal(t, 64, snapshot.FreeRegions[0].Size)
}
