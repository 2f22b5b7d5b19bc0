// Package shmlog implements a lock-free, multi-writer single-reader log laid
// out in one shared page.
//
// The first word of the page is the liveness field: the number of producers
// still writing, in its high 16 bits. Slots follow back to back from offset 4.
// Each slot is a header word (see Header) and its payload, padded to a word.
// Producers claim a slot by compare-and-swap of a free header, copy their
// payload and then publish the slot by setting the complete flag. The single
// reader copies complete slots out and rewrites their producer id to
// ConsumedProducer. Slots are never reclaimed; a page is a one-shot log.
package shmlog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/srediag/shmlog/internal/metrics"
	internalshm "github.com/srediag/shmlog/internal/shm"
)

var defaultMetrics = metrics.NewLog(nil)

// Page is a log channel over a shared buffer. Any number of Page values in
// any number of processes may view the same memory.
type Page struct {
	buf     []byte
	metrics *metrics.Log
	logger  *zap.Logger
}

// Option configures a Page.
type Option func(*Page)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Log) Option {
	return func(p *Page) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger sets the logger used by Drain.
func WithLogger(l *zap.Logger) Option {
	return func(p *Page) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPage wraps buf. The buffer must start on a word boundary, be a whole
// number of words and hold at least the liveness field and one header.
func NewPage(buf []byte, opts ...Option) (*Page, error) {
	if len(buf) < LivenessSize+HeaderSize || len(buf)%internalshm.WordSize != 0 {
		return nil, fmt.Errorf("%w: buffer of %d bytes", ErrInvalidArgument, len(buf))
	}
	if !internalshm.Aligned(buf, 0) {
		return nil, ErrMisaligned
	}
	p := &Page{buf: buf, metrics: defaultMetrics, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the buffer size in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Initialize zeroes every slot and sets the liveness count to producers.
// It must complete before any producer or consumer touches the page.
func (p *Page) Initialize(producers int) error {
	if producers < 0 || producers > maxLive {
		return fmt.Errorf("%w: %d producers", ErrInvalidArgument, producers)
	}
	clear(p.buf[LivenessSize:])
	internalshm.AtomicStoreUint32(p.buf, 0, uint32(producers)<<livenessShift)
	return nil
}

// Live returns the number of producers that have not retired.
func (p *Page) Live() int {
	return int(internalshm.AtomicLoadUint32(p.buf, 0) >> livenessShift)
}

// Retire decrements the liveness count for producer id. It must be called
// once per producer, after the producer's last Produce has returned.
// The count shares its word with reserved low bits, so the decrement is a
// compare-and-swap loop rather than an atomic add.
func (p *Page) Retire(id uint16) error {
	if err := checkProducer(id); err != nil {
		return err
	}
	for {
		old := internalshm.AtomicLoadUint32(p.buf, 0)
		count := old >> livenessShift
		if count == 0 {
			return fmt.Errorf("%w: producer %d", ErrNoLiveProducers, id)
		}
		next := (count-1)<<livenessShift | old&(1<<livenessShift-1)
		if internalshm.AtomicCompareAndSwapUint32(p.buf, 0, old, next) {
			p.metrics.Retired.Inc()
			return nil
		}
	}
}

func checkProducer(id uint16) error {
	if id == 0 || id > MaxProducer {
		return fmt.Errorf("%w: producer id %d outside [1, %d]", ErrInvalidArgument, id, MaxProducer)
	}
	return nil
}

func (p *Page) header(off int) Header {
	return DecodeHeader(internalshm.AtomicLoadUint32(p.buf, off))
}
