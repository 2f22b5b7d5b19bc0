package shm

import (
	"sync/atomic"
	"unsafe"
)

// WordSize is the width of every atomically accessed field in shared memory.
const WordSize = 4

// Aligned reports whether off within mem is usable as an atomic word.
func Aligned(mem []byte, off int) bool {
	if off < 0 || off+WordSize > len(mem) {
		return false
	}
	return uintptr(unsafe.Pointer(&mem[off]))%WordSize == 0
}

func word(mem []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// AtomicLoadUint32 loads the word at off atomically.
func AtomicLoadUint32(mem []byte, off int) uint32 {
	return atomic.LoadUint32(word(mem, off))
}

// AtomicStoreUint32 stores val into the word at off atomically. Every plain
// write to mem issued before the store is visible to a reader that observes val.
func AtomicStoreUint32(mem []byte, off int, val uint32) {
	atomic.StoreUint32(word(mem, off), val)
}

// AtomicCompareAndSwapUint32 replaces the word at off with new if it still holds old.
func AtomicCompareAndSwapUint32(mem []byte, off int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(word(mem, off), old, new)
}

// AtomicAddUint32 adds delta to the word at off and returns the new value.
func AtomicAddUint32(mem []byte, off int, delta uint32) uint32 {
	return atomic.AddUint32(word(mem, off), delta)
}
