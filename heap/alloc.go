// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

import "time"

// Allocate is the primary inline allocator (spec §4.4). size is the
// raw body size in bytes and is rounded up to a multiple of 8;
// scanOffset/scanSize describe the reference-shaped region of the
// body, both in words, and are stored verbatim in the new header.
// Objects whose rounded size exceeds MaxHeapObjectSize words route to
// AllocateBig instead.
func (h *Heap) Allocate(ctx *Context, size int, scanOffset, scanSize uint16) (uintptr, error) {
	if size < 0 {
		size = 0
	}
	byteSize := uintptr(size+7) &^ 7

	if byteSize > h.maxHeapObjectWords*8 {
		return h.AllocateBig(ctx, byteSize, scanOffset, scanSize)
	}

	reserve := byteSize + 2*HeaderSize
	if err := h.ensureAllocate(ctx, reserve); err != nil {
		return 0, err
	}

	headerAddr := h.pointer
	if headerAddr%HeapAlignment != HeaderSize%HeapAlignment {
		h.headerAt(headerAddr).size = 0
		headerAddr += HeaderSize
	}

	hdr := h.headerAt(headerAddr)
	hdr.size = uint16(byteSize / 8)
	hdr.scanOffset = scanOffset
	hdr.scanSize = scanSize
	hdr.reserved = 0

	h.pointer = headerAddr + HeaderSize + byteSize
	return bodyOf(headerAddr), nil
}

// AllocateData allocates n raw, unscanned bytes: a byte string,
// buffer, or other payload that must never hold references.
func (h *Heap) AllocateData(ctx *Context, n int) (uintptr, error) {
	return h.Allocate(ctx, n, 0, 0)
}

// AllocateString is AllocateData under a name matching the ABI
// surface spec lists separately; string bodies carry no references
// either, so the shape is identical.
func (h *Heap) AllocateString(ctx *Context, n int) (uintptr, error) {
	return h.AllocateData(ctx, n)
}

// AllocateSlots allocates n fully-scanned Value slots, e.g. for a
// user object's instance variables.
func (h *Heap) AllocateSlots(ctx *Context, n int) (uintptr, error) {
	return h.Allocate(ctx, n*8, 0, uint16(n))
}

// AllocateArray allocates an array of n elements: one unscanned
// length cell followed by n scanned element slots.
func (h *Heap) AllocateArray(ctx *Context, n int) (uintptr, error) {
	body, err := h.Allocate(ctx, (n+1)*8, 1, uint16(n))
	if err != nil {
		return 0, err
	}
	h.writeValue(body, TagInteger(int64(n)))
	return body, nil
}

// ensureAllocate runs the escalation ladder from spec §4.6 until the
// free inline region covers needed bytes, or returns errHeapExhausted.
func (h *Heap) ensureAllocate(ctx *Context, needed uintptr) error {
	if h.free() >= needed {
		return nil
	}

	if _, err := h.Collect(ctx, NewDeadline(h.gcLatency()), false); err != nil {
		return err
	}
	if h.free() >= needed {
		return nil
	}

	if h.free() < h.usableSize/2 {
		if grown := h.usableSize * 2; grown <= h.reservedSize {
			h.ResizeHeap(grown)
			if h.free() >= needed {
				return nil
			}
		}
	}

	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		return err
	}
	if h.free() >= needed {
		return nil
	}

	return errHeapExhausted
}

// free is the bump space left below the big-object table's boundary,
// which sits bigObjectDescriptorSize bytes per descriptor under limit.
func (h *Heap) free() uintptr {
	if h.big.lowBound <= h.pointer {
		return 0
	}
	return h.big.lowBound - h.pointer
}

// gcLatency is the configured incremental-cycle deadline, defaulting
// to the spec's "~50ms equivalent" when unset.
func (h *Heap) gcLatency() time.Duration {
	if h.config.GCLatency <= 0 {
		return 50 * time.Millisecond
	}
	return h.config.GCLatency
}
