package vm

import (
	"fmt"
	"sort"
)

// VA is a virtual address inside one address space.
type VA uint64

// Perm is a set of page permission bits.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermUser
	// PermShared marks a page aliased from another address space.
	PermShared
)

// PermRW is the permission of ordinary user heap pages.
const PermRW = PermRead | PermWrite | PermUser

// PTE is a page table entry.
type PTE struct {
	Frame Frame
	Perm  Perm
}

// PageRoundUp rounds va up to a page boundary.
func PageRoundUp(va VA) VA { return (va + PageSize - 1) &^ (PageSize - 1) }

// PageRoundDown rounds va down to a page boundary.
func PageRoundDown(va VA) VA { return va &^ (PageSize - 1) }

// PageAligned reports whether v is a multiple of the page size.
func PageAligned(v uint64) bool { return v%PageSize == 0 }

// AddressSpace is the page table and heap of one process.
//
// It is not safe for concurrent use; the owning process entry's lock
// serialises every access.
type AddressSpace struct {
	mem   *PhysMem
	pt    map[VA]PTE
	size  VA
	limit VA
}

// NewAddressSpace returns an empty address space that may not grow past limit.
func NewAddressSpace(mem *PhysMem, limit VA) *AddressSpace {
	return &AddressSpace{
		mem:   mem,
		pt:    make(map[VA]PTE),
		limit: limit,
	}
}

// Mem returns the physical memory backing the address space.
func (as *AddressSpace) Mem() *PhysMem { return as.mem }

// Size returns the heap top.
func (as *AddressSpace) Size() VA { return as.size }

// SetSize moves the heap top without touching the page table.
func (as *AddressSpace) SetSize(sz VA) { as.size = sz }

// Limit returns the highest usable address.
func (as *AddressSpace) Limit() VA { return as.limit }

// Pages returns the number of mapped pages.
func (as *AddressSpace) Pages() int { return len(as.pt) }

// Lookup returns the entry mapping the page that holds va.
func (as *AddressSpace) Lookup(va VA) (PTE, bool) {
	pte, ok := as.pt[PageRoundDown(va)]
	return pte, ok
}

// MapPages installs frames at the page-aligned va. The caller hands over one
// reference per frame. Nothing is installed if any target page is taken.
func (as *AddressSpace) MapPages(va VA, frames []Frame, perm Perm) error {
	if !PageAligned(uint64(va)) {
		return fmt.Errorf("%w: map at %#x", ErrBadAddress, va)
	}
	end := va + VA(len(frames))*PageSize
	if end < va || end > as.limit {
		return fmt.Errorf("%w: map [%#x, %#x) beyond %#x", ErrBadAddress, va, end, as.limit)
	}
	for i := range frames {
		if _, ok := as.pt[va+VA(i)*PageSize]; ok {
			return fmt.Errorf("%w: remap at %#x", ErrBadAddress, va+VA(i)*PageSize)
		}
	}
	for i, f := range frames {
		as.pt[va+VA(i)*PageSize] = PTE{Frame: f, Perm: perm}
	}
	return nil
}

// UnmapPages removes npages entries starting at the page-aligned va and drops
// their frame references. Holes are skipped. It returns the entries removed.
func (as *AddressSpace) UnmapPages(va VA, npages int) int {
	removed := 0
	for i := 0; i < npages; i++ {
		a := va + VA(i)*PageSize
		pte, ok := as.pt[a]
		if !ok {
			continue
		}
		delete(as.pt, a)
		as.mem.DecRef(pte.Frame)
		removed++
	}
	return removed
}

// Grow moves the heap top by n bytes and returns the previous top, like sbrk.
// Growing allocates zeroed read/write pages; shrinking unmaps them.
func (as *AddressSpace) Grow(n int64) (VA, error) {
	old := as.size
	switch {
	case n > 0:
		newsz := old + VA(n)
		if newsz < old || newsz > as.limit {
			return old, fmt.Errorf("%w: grow to %#x", ErrOutOfMemory, newsz)
		}
		start := PageRoundUp(old)
		for a := start; a < newsz; a += PageSize {
			f, err := as.mem.Alloc()
			if err != nil {
				as.UnmapPages(start, int((a-start)/PageSize))
				return old, err
			}
			as.pt[a] = PTE{Frame: f, Perm: PermRW}
		}
		as.size = newsz
	case n < 0:
		shrink := VA(-n)
		if shrink > old {
			return old, fmt.Errorf("%w: shrink %d below zero", ErrBadAddress, shrink)
		}
		newsz := old - shrink
		start := PageRoundUp(newsz)
		as.UnmapPages(start, int((PageRoundUp(old)-start)/PageSize))
		as.size = newsz
	}
	return old, nil
}

// Read copies n bytes starting at va out of the address space.
func (as *AddressSpace) Read(va VA, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		page, off, err := as.access(va, PermRead)
		if err != nil {
			return nil, err
		}
		chunk := min(n, PageSize-off)
		out = append(out, page[off:off+chunk]...)
		va += VA(chunk)
		n -= chunk
	}
	return out, nil
}

// Write copies data into the address space starting at va. Pages before a
// faulting page are already written when ErrFault is returned.
func (as *AddressSpace) Write(va VA, data []byte) error {
	for len(data) > 0 {
		page, off, err := as.access(va, PermWrite)
		if err != nil {
			return err
		}
		n := copy(page[off:], data)
		va += VA(n)
		data = data[n:]
	}
	return nil
}

// PageView returns the backing bytes of the page mapped at the page-aligned va.
// The view aliases physical memory and is shared with every other mapping of
// the same frame.
func (as *AddressSpace) PageView(va VA) ([]byte, error) {
	if !PageAligned(uint64(va)) {
		return nil, fmt.Errorf("%w: view at %#x", ErrBadAddress, va)
	}
	page, _, err := as.access(va, PermRead|PermWrite)
	return page, err
}

func (as *AddressSpace) access(va VA, need Perm) ([]byte, int, error) {
	pte, ok := as.pt[PageRoundDown(va)]
	if !ok || pte.Perm&PermUser == 0 || pte.Perm&need != need {
		return nil, 0, fmt.Errorf("%w at %#x", ErrFault, va)
	}
	return as.mem.Page(pte.Frame), int(va % PageSize), nil
}

// Clone deep-copies every mapped page into fresh frames, the way fork copies
// a parent. Shared pages become private copies in the child.
func (as *AddressSpace) Clone() (*AddressSpace, error) {
	child := NewAddressSpace(as.mem, as.limit)
	for _, va := range as.sortedVAs() {
		pte := as.pt[va]
		f, err := as.mem.Alloc()
		if err != nil {
			child.Release()
			return nil, err
		}
		copy(as.mem.Page(f), as.mem.Page(pte.Frame))
		child.pt[va] = PTE{Frame: f, Perm: pte.Perm &^ PermShared}
	}
	child.size = as.size
	return child, nil
}

// Release drops every page reference, as on process exit.
func (as *AddressSpace) Release() {
	for va, pte := range as.pt {
		delete(as.pt, va)
		as.mem.DecRef(pte.Frame)
	}
	as.size = 0
}

func (as *AddressSpace) sortedVAs() []VA {
	vas := make([]VA, 0, len(as.pt))
	for va := range as.pt {
		vas = append(vas, va)
	}
	sort.Slice(vas, func(i, j int) bool { return vas[i] < vas[j] })
	return vas
}
