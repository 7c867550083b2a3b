// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

// markState drains the worklist threaded through Heap.markNext. The
// bitmap is the sole "already visited" signal, so cycles in the
// object graph terminate without an auxiliary visited set.
type markState struct {
	h         *Heap
	worklist  int32 // head slot, or -1
	liveBytes uintptr
}

// mark runs the root-seeded precise mark phase. It returns true if
// the deadline expired before the worklist drained; liveBytes is
// valid either way (it only grows, so a partial count undercounts,
// never overcounts, and the caller re-marks from Idle on the next
// cycle rather than trusting a partial total).
func (h *Heap) mark(ctx *Context, dl Deadline) (interrupted bool, liveBytes uintptr) {
	h.clearBitmap()
	for i := range h.markNext {
		h.markNext[i] = -1
	}
	h.big.sortByBody()
	for i := range h.big.descs {
		h.big.descs[i].mark = false
	}

	ms := &markState{h: h, worklist: -1}
	for _, v := range ctx.Roots() {
		ms.visit(v)
	}

	for ms.worklist != -1 {
		slot := uintptr(ms.worklist)
		ms.worklist = h.markNext[slot]

		headerAddr := h.slotHeaderAddr(slot)
		hdr := h.headerAt(headerAddr)
		ms.scanInline(bodyOf(headerAddr), hdr)

		if dl.Expired() {
			return true, ms.liveBytes
		}
	}
	return false, ms.liveBytes
}

func (ms *markState) visit(v Value) {
	if !v.IsPointer() {
		return
	}
	addr := v.UntagPointer()
	h := ms.h

	if addr >= h.base && addr < h.pointer {
		headerAddr := addr - HeaderSize
		slot := h.headerSlot(headerAddr)
		if h.testBit(slot) {
			return
		}
		h.setBit(slot)
		hdr := h.headerAt(headerAddr)
		ms.liveBytes += HeaderSize + uintptr(hdr.size)*8
		h.markNext[slot] = ms.worklist
		ms.worklist = int32(slot)
		return
	}

	if d, ok := h.big.find(addr); ok {
		if d.mark {
			return
		}
		d.mark = true
		ms.liveBytes += uintptr(d.sizeWords) * 8
		ms.scanBig(d)
	}
}

func (ms *markState) scanInline(body uintptr, hdr *header) {
	h := ms.h
	end := uintptr(hdr.scanOffset) + uintptr(hdr.scanSize)
	for w := uintptr(hdr.scanOffset); w < end; w++ {
		ms.visit(h.readValue(body + w*8))
	}
}

func (ms *markState) scanBig(d *bigObjectDescriptor) {
	end := uintptr(d.scanOffset) + uintptr(d.scanSize)
	for w := uintptr(d.scanOffset); w < end; w++ {
		ms.visit(readValueAt(d.body + w*8))
	}
}
