package heap

import "unsafe"

// Alignment is the boundary every payload pointer returned by the heap is aligned to.
const Alignment uint = 16

// headerSentinel is stamped into every block header at allocation time. A release
// that finds anything else here is operating on a foreign, already-released, or
// overwritten block.
const headerSentinel uint32 = 0x01234567

// blockHeader prefixes every live allocation. size records the caller-visible payload
// size in bytes, header excluded. The trailing padding pins the struct to exactly 16
// bytes so the payload that follows stays aligned.
type blockHeader struct {
	size     uint64
	sentinel uint32
	_        uint32
}

// freeNode is overlaid on the header of a released block. size is the total block
// size in bytes excluding the node itself; next links to another free block in the
// list, in insertion order rather than address order.
type freeNode struct {
	size uint64
	next *freeNode
}

const (
	headerSize = int(unsafe.Sizeof(blockHeader{}))
	nodeSize   = int(unsafe.Sizeof(freeNode{}))
)

// Both overlays must occupy exactly one alignment quantum, so that payloads land on
// aligned addresses and a header can be reinterpreted as a free node in place. These
// declarations fail to compile on targets where that does not hold (32-bit pointers).
var (
	_ [int(Alignment) - headerSize]byte
	_ [headerSize - int(Alignment)]byte
	_ [int(Alignment) - nodeSize]byte
	_ [nodeSize - int(Alignment)]byte
)

func headerFromPayload(ptr unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Add(ptr, -headerSize))
}

func payloadFromHeader(hdr *blockHeader) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(hdr), headerSize)
}

// nodeEnd returns the first address past the block described by node, counting both
// the node itself and the node.size bytes that follow it.
func nodeEnd(node *freeNode) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(node), nodeSize+int(node.size))
}

func memZero(ptr unsafe.Pointer, size int) {
	b := unsafe.Slice((*byte)(ptr), size)
	for i := range b {
		b[i] = 0
	}
}

func memCopy(dst, src unsafe.Pointer, size int) {
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
}
