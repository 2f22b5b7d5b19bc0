//go:build !linux

package shm

import (
	"context"
	"fmt"
	"unsafe"
)

// MapRegion allocates the region on the Go heap. Named regions are not
// supported off Linux; the name is kept for diagnostics only.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("alloc: invalid size %d", opts.Size)
	}
	// uint64 backing keeps the first byte word-aligned.
	heap := make([]uint64, (opts.Size+7)/8)
	addr := unsafe.Slice((*byte)(unsafe.Pointer(&heap[0])), opts.Size)
	return &MappedRegion{Addr: addr, Name: opts.Name, fd: -1, heap: heap}, nil
}

// UnmapRegion drops the heap backing.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil {
		return nil
	}
	region.Addr = nil
	region.heap = nil
	return nil
}
