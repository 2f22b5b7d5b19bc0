/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package vm simulates the physical memory and per-process page tables that
// shared mappings are built on.
//
// Frames live in one arena mapped through internal/shm, so every page is
// page-aligned and its words can be accessed atomically. Frame lifetime is
// governed by reference counts: a frame returns to the free list only when
// the last address space mapping it lets go.
package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	queuepkg "github.com/Workiva/go-datastructures/queue"

	internalshm "github.com/srediag/shmlog/internal/shm"
	"github.com/srediag/shmlog/pkg/config"
)

// PageSize is the size of a physical frame.
const PageSize = config.PageSize

var (
	// ErrOutOfMemory is returned when no free frame is left.
	ErrOutOfMemory = errors.New("out of physical memory")
	// ErrFault is returned when an access touches an unmapped or protected page.
	ErrFault = errors.New("page fault")
	// ErrBadAddress is returned for misaligned or out-of-range addresses.
	ErrBadAddress = errors.New("bad address")
)

// Frame is a physical page number.
type Frame uint32

// PhysMem is a pool of reference-counted physical frames.
type PhysMem struct {
	mu     sync.Mutex
	region *internalshm.MappedRegion
	mem    []byte
	refs   []int32
	free   *queuepkg.Queue
}

// NewPhysMem maps an arena of pages frames. A non-empty name backs the arena
// with a /dev/shm file of that name on Linux.
func NewPhysMem(ctx context.Context, pages int, name string) (*PhysMem, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("%w: %d pages", ErrBadAddress, pages)
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: name, Size: pages * PageSize})
	if err != nil {
		return nil, fmt.Errorf("map arena: %w", err)
	}
	pm := &PhysMem{
		region: region,
		mem:    region.Addr,
		refs:   make([]int32, pages),
		free:   queuepkg.New(int64(pages)),
	}
	for f := 0; f < pages; f++ {
		if err := pm.free.Put(Frame(f)); err != nil {
			return nil, fmt.Errorf("seed free list: %w", err)
		}
	}
	return pm, nil
}

// Alloc takes a zeroed frame with a reference count of one.
func (pm *PhysMem) Alloc() (Frame, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.free.Empty() {
		return 0, ErrOutOfMemory
	}
	items, err := pm.free.Get(1)
	if err != nil || len(items) == 0 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	f := items[0].(Frame)
	clear(pm.page(f))
	pm.refs[f] = 1
	return f, nil
}

// IncRef adds a reference to an allocated frame.
func (pm *PhysMem) IncRef(f Frame) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.refs[f] <= 0 {
		panic(fmt.Sprintf("vm: incref of free frame %d", f))
	}
	pm.refs[f]++
}

// DecRef drops a reference and reports whether the frame went back to the free list.
func (pm *PhysMem) DecRef(f Frame) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.refs[f] <= 0 {
		panic(fmt.Sprintf("vm: decref of free frame %d", f))
	}
	pm.refs[f]--
	if pm.refs[f] > 0 {
		return false
	}
	// The queue is sized for every frame, so Put only fails once disposed.
	_ = pm.free.Put(f)
	return true
}

// Refs returns the reference count of f.
func (pm *PhysMem) Refs(f Frame) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return int(pm.refs[f])
}

// Page returns the bytes of frame f.
func (pm *PhysMem) Page(f Frame) []byte {
	return pm.page(f)
}

func (pm *PhysMem) page(f Frame) []byte {
	off := int(f) * PageSize
	return pm.mem[off : off+PageSize : off+PageSize]
}

// Frames returns the arena size in frames.
func (pm *PhysMem) Frames() int { return len(pm.refs) }

// Free returns the number of frames on the free list.
func (pm *PhysMem) Free() int {
	return int(pm.free.Len())
}

// Close unmaps the arena. Frames must not be used afterwards.
func (pm *PhysMem) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.free.Dispose()
	pm.mem = nil
	return internalshm.UnmapRegion(context.Background(), pm.region)
}
