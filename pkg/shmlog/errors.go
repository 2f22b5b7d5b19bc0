package shmlog

import "errors"

var (
	// ErrInvalidArgument is returned for oversized payloads and unusable producer ids.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCapacityExhausted is returned when no free slot can hold the payload.
	ErrCapacityExhausted = errors.New("log page capacity exhausted")
	// ErrMisaligned is returned when a buffer cannot be accessed by words.
	ErrMisaligned = errors.New("log buffer is not word aligned")
	// ErrNoLiveProducers is returned by Retire once the liveness count is zero.
	ErrNoLiveProducers = errors.New("no live producers")
	// ErrIncompleteSlot is returned by Drain when the last pass stopped on a
	// reservation whose producer never completed it.
	ErrIncompleteSlot = errors.New("slot left reserved")
)
