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

package shmlog

import (
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Slot is a snapshot of one slot header.
type Slot struct {
	Offset int
	Header Header
}

// State returns the slot's state at snapshot time.
func (s Slot) State() SlotState { return s.Header.State() }

// Inspect walks the claimed slots without consuming any. Unlike a consume
// pass it steps over reserved slots, using their header length.
func (p *Page) Inspect() []Slot {
	var slots []Slot
	off := LivenessSize
	for off+HeaderSize <= len(p.buf) {
		h := p.header(off)
		if h.State() == Free {
			break
		}
		slots = append(slots, Slot{Offset: off, Header: h})
		off += SlotSize(int(h.Length))
	}
	return slots
}

// Dump writes a human readable description of the page to w.
func (p *Page) Dump(w io.Writer) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	slots := p.Inspect()
	end := LivenessSize
	if n := len(slots); n > 0 {
		end = slots[n-1].Offset + SlotSize(int(slots[n-1].Header.Length))
	}
	free := len(p.buf) - end
	if free < 0 {
		free = 0
	}

	fmt.Fprintf(buf, "log page size=%d live=%d slots=%d free=%d\n", len(p.buf), p.Live(), len(slots), free)
	for i, s := range slots {
		fmt.Fprintf(buf, "  [%d] off=%d %s\n", i, s.Offset, s.Header)
	}
	_, err := w.Write(buf.B)
	return err
}
