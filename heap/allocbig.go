// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

// AllocateBig allocates a separately-mapped big object of size bytes,
// per spec §4.4's second path: page-granular OS mapping, a
// downward-growing descriptor table, and its own collect/resize/abort
// ladder distinct from the inline allocator's.
func (h *Heap) AllocateBig(ctx *Context, size uintptr, scanOffset, scanSize uint16) (uintptr, error) {
	if size > h.maxBigObjectWords*8 {
		return 0, &FatalError{Op: "allocate_big", Reason: "object size exceeds MaxBigObjectSize"}
	}

	if err := h.ensureBigTableSpace(ctx); err != nil {
		return 0, err
	}

	body, mem, err := mapBody(size)
	if err != nil {
		// Run a big-object-only collection (mark, then free whatever
		// came up unmarked) before escalating to a full collection.
		// The bare sweep this used to call directly is wrong outside
		// a collection: every descriptor's mark bit already sits at
		// false between cycles (the previous freeUnmarked reset every
		// survivor), so sweeping without marking first would unmap
		// every live big object, reachable or not.
		if interrupted, _ := h.mark(ctx, NoDeadline()); interrupted {
			return 0, &FatalError{Op: "allocate_big", Reason: "mark did not complete under NoDeadline"}
		}
		if _, sweepErr := h.big.freeUnmarked(); sweepErr != nil {
			return 0, sweepErr
		}
		body, mem, err = mapBody(size)
		if err != nil {
			if _, collErr := h.Collect(ctx, NoDeadline(), true); collErr != nil {
				return 0, collErr
			}
			body, mem, err = mapBody(size)
			if err != nil {
				return 0, wrapOSError("allocate_big", err)
			}
		}
	}
	_ = mem

	h.big.add(bigObjectDescriptor{
		body:       body,
		sizeWords:  uint64(size / 8),
		scanOffset: uint32(scanOffset),
		scanSize:   uint32(scanSize),
	})
	return body, nil
}

// ensureBigTableSpace runs the same collect/resize/abort ladder
// ensureAllocate uses, but triggered by the downward-growing
// descriptor table colliding with the bump pointer rather than by a
// shortage of inline free space.
func (h *Heap) ensureBigTableSpace(ctx *Context) error {
	if !h.big.wouldCollide(h.pointer) {
		return nil
	}

	if _, err := h.Collect(ctx, NewDeadline(h.gcLatency()), false); err != nil {
		return err
	}
	if !h.big.wouldCollide(h.pointer) {
		return nil
	}

	if grown := h.usableSize * 2; grown <= h.reservedSize {
		h.ResizeHeap(grown)
		if !h.big.wouldCollide(h.pointer) {
			return nil
		}
	}

	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		return err
	}
	if !h.big.wouldCollide(h.pointer) {
		return nil
	}

	return errHeapExhausted
}
