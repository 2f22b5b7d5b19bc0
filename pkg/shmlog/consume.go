package shmlog

import (
	internalshm "github.com/srediag/shmlog/internal/shm"
)

// Message is one payload read out of the log.
type Message struct {
	Producer uint16
	Payload  []byte
	// Offset of the slot header within the page.
	Offset int
}

// Pass reports what one consume pass did.
type Pass struct {
	Emitted int
	// Blocked is set when the pass stopped at a slot still being written.
	Blocked bool
	// End is the offset the pass stopped at.
	End int
}

// ConsumeFunc makes one pass over the page, calling fn for every complete
// slot not read before and marking it consumed. Only one goroutine or
// process may consume a page.
//
// The pass stops at the first free header, which ends the run of claimed
// slots, or at the first reserved one: its payload is not safe to read yet
// and the slots after it are left for a later pass so they are emitted in
// claim order.
func (p *Page) ConsumeFunc(fn func(Message)) Pass {
	var pass Pass
	off := LivenessSize
	for off+HeaderSize <= len(p.buf) {
		h := p.header(off)
		switch h.State() {
		case Free:
			pass.End = off
			return pass
		case Reserved:
			pass.Blocked = true
			pass.End = off
			return pass
		case Complete:
			body := off + HeaderSize
			if body+int(h.Length) > len(p.buf) {
				pass.End = off
				return pass
			}
			payload := make([]byte, h.Length)
			copy(payload, p.buf[body:])
			internalshm.AtomicStoreUint32(p.buf, off,
				Header{Complete: true, Producer: ConsumedProducer, Length: h.Length}.Encode())
			pass.Emitted++
			p.metrics.Consumed.Inc()
			fn(Message{Producer: h.Producer, Payload: payload, Offset: off})
		}
		off += SlotSize(int(h.Length))
	}
	pass.End = off
	return pass
}

// Consume makes one pass and returns the messages it emitted.
func (p *Page) Consume() []Message {
	var out []Message
	p.ConsumeFunc(func(m Message) {
		out = append(out, m)
	})
	return out
}
