package heap

import "unsafe"

// splitNode carves a free block into a first piece of size bytes and a remainder free
// node placed immediately after it. The remainder inherits node's successor link but
// is not spliced into the list- that is the caller's job. Returns nil without touching
// anything when the block does not have enough slack to host the remainder's own node.
// A zero-size remainder is legal.
func splitNode(node *freeNode, size int) *freeNode {
	if int(node.size) < size+nodeSize {
		return nil
	}

	remainder := (*freeNode)(unsafe.Add(unsafe.Pointer(node), size+nodeSize))
	remainder.size = node.size - uint64(size+nodeSize)
	remainder.next = node.next

	node.size = uint64(size)

	return remainder
}

// findPrev scans the entire free list for the block whose end address is node's start
// address. Adjacency is pure pointer arithmetic- there are no boundary tags- so the
// scan is O(list length).
func (h *Heap) findPrev(node *freeNode) *freeNode {
	for curr := h.head; curr != nil; curr = curr.next {
		if nodeEnd(curr) == unsafe.Pointer(node) {
			return curr
		}
	}
	return nil
}

// findNext scans the entire free list for the block whose start address is node's end
// address.
func (h *Heap) findNext(node *freeNode) *freeNode {
	end := nodeEnd(node)

	for curr := h.head; curr != nil; curr = curr.next {
		if unsafe.Pointer(curr) == end {
			return curr
		}
	}
	return nil
}

// removeNode unlinks node from the free list. Removing a node that is not in the list
// leaves the list unchanged.
func (h *Heap) removeNode(node *freeNode) {
	if h.head == node {
		h.head = node.next
		return
	}

	for curr := h.head; curr != nil; curr = curr.next {
		if curr.next == node {
			curr.next = node.next
			return
		}
	}
}

// replaceNode splices repl into node's position in the free list. repl must already
// carry the successor link it is meant to keep.
func (h *Heap) replaceNode(node, repl *freeNode) {
	if h.head == node {
		h.head = repl
		return
	}

	for curr := h.head; curr != nil; curr = curr.next {
		if curr.next == node {
			curr.next = repl
			return
		}
	}
}

// coalesce merges node with its address-adjacent free neighbors, if any. A single pass
// considers one neighbor in each direction: first the previous neighbor absorbs node,
// then the possibly-merged result absorbs the next neighbor. Absorbed nodes are
// unlinked from the list, so a merge never leaves a reachable node whose bytes belong
// to a larger block. Returns the final, possibly enlarged block.
func (h *Heap) coalesce(node *freeNode) *freeNode {
	if node == nil {
		return nil
	}

	prev := h.findPrev(node)
	next := h.findNext(node)

	if prev != nil {
		h.removeNode(node)
		prev.size += node.size + uint64(nodeSize)
		node = prev
	}

	// merging with prev moved node's start, not its end, so next still borders it
	if next != nil {
		h.removeNode(next)
		node.size += next.size + uint64(nodeSize)
	}

	return node
}
