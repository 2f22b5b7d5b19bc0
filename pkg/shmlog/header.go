package shmlog

import "fmt"

// Wire layout of a slot header word, most significant bit first:
//
//	bit  31     complete flag
//	bits 30..16 producer id (15 bits, ConsumedProducer marks a read slot)
//	bits 15..0  payload length
//
// A header word of zero is a free slot.
const (
	HeaderSize   = 4
	LivenessSize = 4

	// MaxPayload is the largest payload a slot can carry.
	MaxPayload = 1<<16 - 1
	// ConsumedProducer is the producer id written over a slot once it is read.
	ConsumedProducer = 0x7FFF
	// MaxProducer is the largest usable producer id. Ids start at 1.
	MaxProducer = ConsumedProducer - 1

	completeBit   = 1 << 31
	producerShift = 16
	producerMask  = 0x7FFF
	lengthMask    = 0xFFFF

	livenessShift = 16
	maxLive       = 0xFFFF
)

// SlotState is where a slot is in its FREE, RESERVED, COMPLETE, CONSUMED sequence.
type SlotState int

const (
	Free SlotState = iota
	Reserved
	Complete
	Consumed
)

func (s SlotState) String() string {
	switch s {
	case Free:
		return "free"
	case Reserved:
		return "reserved"
	case Complete:
		return "complete"
	case Consumed:
		return "consumed"
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

// Header is the decoded form of a slot header word.
type Header struct {
	Complete bool
	Producer uint16
	Length   uint16
}

// DecodeHeader unpacks a header word.
func DecodeHeader(w uint32) Header {
	return Header{
		Complete: w&completeBit != 0,
		Producer: uint16(w >> producerShift & producerMask),
		Length:   uint16(w & lengthMask),
	}
}

// Encode packs h into a header word. Producer ids wider than 15 bits are truncated.
func (h Header) Encode() uint32 {
	w := uint32(h.Producer&producerMask)<<producerShift | uint32(h.Length)
	if h.Complete {
		w |= completeBit
	}
	return w
}

// State classifies the slot the header describes.
func (h Header) State() SlotState {
	switch {
	case h == (Header{}):
		return Free
	case !h.Complete:
		return Reserved
	case h.Producer == ConsumedProducer:
		return Consumed
	default:
		return Complete
	}
}

func (h Header) String() string {
	return fmt.Sprintf("%s producer=%d len=%d", h.State(), h.Producer, h.Length)
}

// SlotSize returns the footprint of a slot carrying length payload bytes,
// header included, rounded up to the next word.
func SlotSize(length int) int {
	return (HeaderSize + length + 3) &^ 3
}
