package heap

import "unsafe"

//go:generate mockgen -source region.go -destination mocks/region_source.go

// RegionSource acquires additional contiguous memory on behalf of a Heap. The heap
// treats it as an opaque capability: each Acquire either appends a fresh range to the
// managed region or fails, and granted memory is never taken back.
type RegionSource interface {
	// Acquire extends the managed region by size bytes and returns a pointer to the
	// start of the newly appended range. The range must be contiguous with the
	// region's previous end and exclusively owned by the caller. Acquire must fail
	// when size is zero or when the backing store cannot grant the extension.
	Acquire(size int) (unsafe.Pointer, error)
}
