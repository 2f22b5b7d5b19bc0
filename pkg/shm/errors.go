package shm

import "errors"

var (
	// ErrNotFound is returned when a pid does not resolve to a live process
	// or no mapping exists at the given address.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRange is returned when the source range is unmapped,
	// misaligned or empty.
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidArgument is returned when an unmap names only part of a mapping.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfSpace is returned when the destination has no room for the mapping.
	ErrOutOfSpace = errors.New("no destination address space left")
)
