// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

// compactState drives one sliding-compaction pass. The heap between
// [h.base, dest) holds already-finalized (moved, fixed-up-pending)
// objects; [src, h.pointer) holds untouched originals; the gap
// [dest, src) is dead space that may already be partially overwritten
// by earlier copies and must never be read as headers again.
type compactState struct {
	h       *Heap
	dest    uintptr
	src     uintptr
	origEnd uintptr // h.pointer as it was when the pass started
	relocs  []relocation
	fixup   []relocation // scratch: relocs plus the partial-fixup boundary entry
	n       uint32
}

// compact runs the sliding-compaction phase. It assumes the mark
// phase has already completed (bitmap authoritative) and the
// big-object sweep has already run. Returns true if the deadline
// expired mid-pass; the heap remains fully traversable either way.
func (h *Heap) compact(ctx *Context, dl Deadline) bool {
	relocs := h.relocBuf()
	cs := &compactState{
		h:       h,
		dest:    h.base,
		src:     h.base,
		origEnd: h.pointer,
		relocs:  relocs,
		fixup:   make([]relocation, len(relocs)+1),
	}

	for cs.src < cs.origEnd {
		headerAddr := cs.src
		hdr := h.headerAt(headerAddr)

		if hdr.size == 0 {
			// Zero-size padding carries no data; dropped here and
			// re-synthesized at the destination if alignment needs
			// it. See DESIGN.md.
			cs.src += HeaderSize
			continue
		}

		total := HeaderSize + uintptr(hdr.size)*8
		slot := h.headerSlot(headerAddr)
		if h.testBit(slot) {
			cs.slide(headerAddr, hdr, total)
		}
		cs.src += total

		if cs.n > 0 && cs.n == h.relocsCap {
			cs.flush(ctx)
		}
		if dl.Expired() {
			// On interrupt the partial fixup runs, exactly as on a
			// relocation-buffer spill: h.pointer stays at origEnd, so the
			// not-yet-moved suffix [cs.src, origEnd) is left intact and
			// still reachable through the diff-0 boundary entry flush
			// appends. Calling finish() here would be wrong: h.pointer is
			// still origEnd at this point, so zeroing [cs.dest, h.pointer)
			// would destroy that live, unmoved suffix. Only the dead gap
			// [cs.dest, cs.src) is zeroed, so it reads as a run of
			// zero-size padding headers and the heap stays walkable.
			cs.flush(ctx)
			gap := h.bytesAt(cs.dest, cs.src-cs.dest)
			for i := range gap {
				gap[i] = 0
			}
			return true
		}
	}

	cs.flush(ctx)
	cs.finish()
	return false
}

// slide copies one live object from headerAddr to the current dest,
// inserting alignment padding first if needed, and records a
// relocation entry when it actually moved.
func (cs *compactState) slide(headerAddr uintptr, hdr *header, total uintptr) {
	h := cs.h
	if cs.dest%HeapAlignment != HeaderSize%HeapAlignment {
		h.headerAt(cs.dest).size = 0
		cs.dest += HeaderSize
	}

	destAddr := cs.dest
	if destAddr != headerAddr {
		copy(h.bytesAt(destAddr, total), h.bytesAt(headerAddr, total))
	}

	srcBody := bodyOf(headerAddr)
	destBody := bodyOf(destAddr)
	if destBody != srcBody {
		cs.appendReloc(h.bodySlot(srcBody), h.bodySlot(srcBody)-h.bodySlot(destBody))
	}
	cs.dest += total
}

func (cs *compactState) appendReloc(src, diff uintptr) {
	if int(cs.n) >= len(cs.relocs) {
		return // caller flushes before this would ever be reached
	}
	cs.relocs[cs.n] = relocation{src: uint32(src), diff: uint32(diff)}
	cs.n++
}

// flush applies every entry in the current relocation batch to the
// stack, every big object's reference slots, the already-compacted
// prefix, and the not-yet-compacted suffix, then empties the batch.
// This is the partial-fixup mechanism that lets the relocation buffer
// stay bounded in size regardless of how much the pass moves.
//
// Before fixing anything up, it appends a boundary entry {src =
// bodySlot(bodyOf(cs.src)), diff = 0}: a forward reference into the
// not-yet-compacted suffix must resolve to diff 0, since that object
// hasn't moved yet. Without this entry such a reference would match
// the greatest real relocation and be shifted by a diff that belongs
// to a different object, corrupting the pointer. Every body in the
// suffix lies at or above bodyOf(cs.src), while every real entry's
// body lies at least one word below cs.src; since bodies are
// HeapAlignment-aligned, the boundary's src is strictly greater than
// every real entry's src, so appending it at the end keeps the table
// sorted and never shadows a real entry.
func (cs *compactState) flush(ctx *Context) {
	if cs.n == 0 {
		return
	}
	h := cs.h
	copy(cs.fixup, cs.relocs[:cs.n])
	cs.fixup[cs.n] = relocation{src: uint32(h.bodySlot(bodyOf(cs.src)))}
	table := cs.fixup[:cs.n+1]

	for i, v := range ctx.stack[:ctx.stackPointer] {
		ctx.stack[i] = h.applyReloc(table, v)
	}
	for i := range h.big.descs {
		d := &h.big.descs[i]
		end := uintptr(d.scanOffset) + uintptr(d.scanSize)
		for w := uintptr(d.scanOffset); w < end; w++ {
			addr := d.body + w*8
			v := readValueAt(addr)
			if nv := h.applyReloc(table, v); nv != v {
				writeValueAt(addr, nv)
			}
		}
	}
	h.fixupRange(table, h.base, cs.dest)
	h.fixupRange(table, cs.src, cs.origEnd)

	cs.n = 0
}

// fixupRange patches reference slots of every live header in
// [from, to), which must hold intact, in-place header data (either
// the finalized prefix or the untouched suffix, never the dead gap
// between them).
func (h *Heap) fixupRange(table []relocation, from, to uintptr) {
	addr := from
	for addr < to {
		hdr := h.headerAt(addr)
		if hdr.size == 0 {
			addr += HeaderSize
			continue
		}
		body := bodyOf(addr)
		end := uintptr(hdr.scanOffset) + uintptr(hdr.scanSize)
		for w := uintptr(hdr.scanOffset); w < end; w++ {
			off := body + w*8
			v := h.readValue(off)
			if nv := h.applyReloc(table, v); nv != v {
				h.writeValue(off, nv)
			}
		}
		addr += HeaderSize + uintptr(hdr.size)*8
	}
}

// applyReloc maps a possibly-stale reference through table, which
// must be sorted ascending by src (true by construction: compaction
// appends in increasing source-slot order). Absence leaves v
// untouched, per spec. References outside the inline region — below
// h.base, or at/above h.pointer — are also left untouched; a
// big-object body in particular may map above the reservation
// entirely, and without this upper guard such an address would
// produce a huge querySlot that matches the last real entry and gets
// corrupted by its diff.
func (h *Heap) applyReloc(table []relocation, v Value) Value {
	if !v.IsPointer() || len(table) == 0 {
		return v
	}
	addr := v.UntagPointer()
	if addr < h.base || addr >= h.pointer {
		return v
	}
	querySlot := h.bodySlot(addr)

	lo, hi := 0, len(table)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if uintptr(table[mid].src) <= querySlot {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == -1 {
		return v
	}
	newAddr := addr - uintptr(table[best].diff)*HeapAlignment
	return TagPointerValue(v.Tag(), newAddr)
}

// finish sets the new bump pointer, zeroes the reclaimed tail, and
// clears the worklist links. Unlike flush's partial-fixup boundary
// entry, no final full-pass sentinel is needed here: by this point
// cs.src == cs.origEnd, so there is no unprocessed suffix left for a
// sentinel to shield, and applyReloc's "no entry with src <= query"
// case already resolves to untouched (see DESIGN.md).
func (cs *compactState) finish() {
	h := cs.h
	if cs.dest < h.pointer {
		for i := range h.mem[h.offset(cs.dest):h.offset(h.pointer)] {
			h.mem[h.offset(cs.dest)+uintptr(i)] = 0
		}
	}
	h.pointer = cs.dest
	for i := range h.markNext {
		h.markNext[i] = -1
	}
}
