// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

import "time"

// Collect runs one cycle of the state machine described in spec:
//
//	Idle -> Marking -> (Interrupted | Marked)
//	Marked -> (SkipCompact | Compacting)
//	Compacting -> (Interrupted | Compacted)
//	(Interrupted | SkipCompact | Compacted) -> Idle
//
// full marks the cycle as a deadline-free collection triggered by the
// allocation-failure escalation ladder; it does not change dl itself
// (the caller passes NoDeadline() for those), it only labels the
// resulting Stats entry.
func (h *Heap) Collect(ctx *Context, dl Deadline, full bool) (CycleKind, error) {
	start := time.Now()
	kind := CycleIncremental
	if full {
		kind = CycleFull
	}

	interrupted, liveBytes := h.mark(ctx, dl)
	if interrupted {
		h.recordCycle(kind, liveBytes, start, true)
		return kind, nil
	}

	if _, err := h.big.freeUnmarked(); err != nil {
		return kind, err
	}

	if liveBytes*2 > h.usableSize {
		// SkipCompact: pressure is high enough that a sliding pass
		// would just shuffle most of the heap; the sweep above already
		// ran, and the next incremental cycle compacts once pressure
		// drops.
		h.recordCycle(kind, liveBytes, start, false)
		return kind, nil
	}

	interruptedCompact := h.compact(ctx, dl)
	h.recordCycle(kind, liveBytes, start, interruptedCompact)
	return kind, nil
}
