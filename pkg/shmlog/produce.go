package shmlog

import (
	"fmt"

	"github.com/srediag/shmlog/internal/metrics"
	internalshm "github.com/srediag/shmlog/internal/shm"
)

// Produce appends msg as producer id. It claims the first free slot after
// every slot already claimed; when a claim loses a race it skips the
// winner's slot using the length now in that slot's header and tries again.
// If msg does not fit in the space left, the page is left untouched and
// ErrCapacityExhausted is returned.
func (p *Page) Produce(id uint16, msg []byte) error {
	if len(msg) > MaxPayload {
		p.metrics.Produced.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("%w: payload of %d bytes", ErrInvalidArgument, len(msg))
	}
	if err := checkProducer(id); err != nil {
		p.metrics.Produced.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	reservation := Header{Producer: id, Length: uint16(len(msg))}.Encode()
	off := LivenessSize
	for off+HeaderSize+len(msg) <= len(p.buf) {
		if internalshm.AtomicCompareAndSwapUint32(p.buf, off, 0, reservation) {
			copy(p.buf[off+HeaderSize:], msg)
			// Publishing the flag orders the payload copy before any reader
			// that observes a complete header.
			internalshm.AtomicStoreUint32(p.buf, off, reservation|completeBit)
			p.metrics.Produced.WithLabelValues(metrics.ResultOK).Inc()
			return nil
		}
		p.metrics.CASRetries.Inc()
		off += SlotSize(int(p.header(off).Length))
	}
	p.metrics.Produced.WithLabelValues(metrics.ResultFull).Inc()
	return ErrCapacityExhausted
}
