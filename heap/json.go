package heap

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsJson writes a snapshot of the heap's state- counters plus every free
// region with its offset into the managed region- to the provided writer.
func (h *Heap) BuildStatsJson(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("RegionBytes").Int(h.regionBytes)
	obj.Name("RegionExtensions").Int(h.regionCount)
	obj.Name("Allocations").Int(h.allocationCount)
	obj.Name("AllocatedBytes").Int(h.allocationBytes)

	freeRegions := obj.Name("FreeRegions").Array()
	for node := h.head; node != nil; node = node.next {
		entry := freeRegions.Object()
		entry.Name("Offset").Int(int(uintptr(unsafe.Pointer(node)) - uintptr(h.regionBase)))
		entry.Name("Size").Int(int(node.size))
		entry.End()
	}
	freeRegions.End()
}

// BuildStatsString renders the BuildStatsJson snapshot as a JSON string.
func (h *Heap) BuildStatsString() string {
	writer := jwriter.NewWriter()
	h.BuildStatsJson(&writer)
	return string(writer.Bytes())
}
