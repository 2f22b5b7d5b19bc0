// Package shm contains the platform helpers behind the simulated physical
// memory: word atomics over shared bytes and the mapped arena region.
package shm

import "errors"

// ErrNoSpace is returned when /dev/shm cannot hold a new arena file.
var ErrNoSpace = errors.New("shared memory has not enough space left")

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Name string

	fd   int
	path string
	heap []uint64
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	// Name of the backing file under /dev/shm. Empty maps anonymous memory.
	Name string
	Size int
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
