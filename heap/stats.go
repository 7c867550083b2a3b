// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// CycleKind distinguishes the two collections the escalation ladder
// can trigger, for diagnostics only; both run the same mark/compact
// code, differing only in their Deadline.
type CycleKind int

const (
	CycleNone CycleKind = iota
	CycleIncremental
	CycleFull
)

func (k CycleKind) String() string {
	switch k {
	case CycleIncremental:
		return "incremental"
	case CycleFull:
		return "full"
	default:
		return "none"
	}
}

// Stats is a point-in-time snapshot of collector activity, restoring
// the introspection the distilled spec dropped (see SPEC_FULL.md §6.1).
type Stats struct {
	LiveBytes         uintptr
	BigObjectCount    int
	CyclesRun         int
	LastCycleKind     CycleKind
	LastCycleDuration time.Duration
	LastInterrupted   bool
}

// Stats returns the current snapshot.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.BigObjectCount = h.big.count()
	return s
}

func (s Stats) String() string {
	status := "complete"
	if s.LastInterrupted {
		status = "interrupted"
	}
	return fmt.Sprintf("gc: %d cycles, live=%s, big_objects=%d, last=%s(%s) in %s",
		s.CyclesRun, humanize.Bytes(uint64(s.LiveBytes)), s.BigObjectCount,
		s.LastCycleKind, status, s.LastCycleDuration)
}

func (h *Heap) recordCycle(kind CycleKind, liveBytes uintptr, start time.Time, interrupted bool) {
	h.stats.CyclesRun++
	h.stats.LiveBytes = liveBytes
	h.stats.LastCycleKind = kind
	h.stats.LastCycleDuration = time.Since(start)
	h.stats.LastInterrupted = interrupted
}

// WalkEntry describes one live inline object, for the debugging
// iterator below.
type WalkEntry struct {
	Header     uintptr
	Body       uintptr
	SizeWords  uint16
	ScanOffset uint16
	ScanSize   uint16
}

// Walk calls f for every non-padding inline object from base
// to the current bump pointer, in address order. It does not consult
// the bitmap, so it reports every allocated object, live or dead by
// the last collection's standard — callers collecting post-GC
// statistics should call it only right after a cycle completes.
func (h *Heap) Walk(f func(WalkEntry) bool) {
	addr := h.base
	for addr < h.pointer {
		hdr := h.headerAt(addr)
		if hdr.size == 0 {
			addr += HeaderSize
			continue
		}
		entry := WalkEntry{
			Header:     addr,
			Body:       bodyOf(addr),
			SizeWords:  hdr.size,
			ScanOffset: hdr.scanOffset,
			ScanSize:   hdr.scanSize,
		}
		if !f(entry) {
			return
		}
		addr += HeaderSize + uintptr(hdr.size)*8
	}
}
