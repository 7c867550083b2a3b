// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

import (
	"sort"

	"golang.org/x/sys/unix"
)

// bigObjectDescriptorSize is the per-entry accounting cost charged
// against the downward-growing descriptor table's boundary. Spec
// keeps the table physically inside the heap; this implementation
// keeps descriptors in a native Go slice for safety (see DESIGN.md)
// but still charges this cost against the bump allocator's free
// space, so the collision/escalation behavior spec §4.4 describes is
// preserved exactly.
const bigObjectDescriptorSize = 32

// bigObjectDescriptor mirrors spec's {body, size, scan_offset,
// scan_size, mark}.
type bigObjectDescriptor struct {
	body       uintptr
	sizeWords  uint64
	scanOffset uint32
	scanSize   uint32
	mark       bool
}

// bigObjectTable is the set of live big-object descriptors, plus the
// accounting boundary (lowBound) that free bump space must not cross.
type bigObjectTable struct {
	h        *Heap
	descs    []bigObjectDescriptor
	lowBound uintptr
	sorted   bool
}

func (t *bigObjectTable) init(h *Heap) {
	t.h = h
}

// resetBound recomputes lowBound for the current limit and entry
// count, called whenever the inline heap is (re)laid out.
func (t *bigObjectTable) resetBound(limit uintptr) {
	t.lowBound = limit - uintptr(len(t.descs)+1)*bigObjectDescriptorSize
}

// wouldCollide reports whether appending one more descriptor would
// push the table's boundary at or below pointer.
func (t *bigObjectTable) wouldCollide(pointer uintptr) bool {
	return t.lowBound-bigObjectDescriptorSize <= pointer
}

func (t *bigObjectTable) add(d bigObjectDescriptor) {
	t.descs = append(t.descs, d)
	t.lowBound -= bigObjectDescriptorSize
	t.sorted = false
}

// sortByBody orders descriptors by body address, as the mark phase
// requires for binary-search lookup.
func (t *bigObjectTable) sortByBody() {
	if t.sorted {
		return
	}
	sort.Slice(t.descs, func(i, j int) bool { return t.descs[i].body < t.descs[j].body })
	t.sorted = true
}

// find returns the descriptor whose body region contains addr, if any.
func (t *bigObjectTable) find(addr uintptr) (*bigObjectDescriptor, bool) {
	t.sortByBody()
	descs := t.descs
	i := sort.Search(len(descs), func(i int) bool { return descs[i].body > addr })
	if i == 0 {
		return nil, false
	}
	d := &descs[i-1]
	end := d.body + uintptr(d.sizeWords)*8
	if addr >= d.body && addr < end {
		return d, true
	}
	return nil, false
}

func pageRoundUp(n uintptr) uintptr {
	pageSize := uintptr(unix.Getpagesize())
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// mapBody obtains a fresh, page-granular anonymous mapping for a
// big-object body of n bytes.
func mapBody(n uintptr) (uintptr, []byte, error) {
	mem, err := unix.Mmap(-1, 0, int(pageRoundUp(n)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, nil, err
	}
	return uintptrOf(mem), mem, nil
}

// releaseAll unmaps every live big-object body and clears the table.
// Called once, from Heap.Release at context teardown.
func (t *bigObjectTable) releaseAll() error {
	for i := range t.descs {
		if err := t.unmapIndex(i); err != nil {
			return err
		}
	}
	t.descs = t.descs[:0]
	return nil
}

func (t *bigObjectTable) unmapIndex(i int) error {
	d := &t.descs[i]
	n := pageRoundUp(uintptr(d.sizeWords) * 8)
	mem := sliceFromAddr(d.body, n)
	return unix.Munmap(mem)
}

// freeUnmarked drops every unmarked big object (unmapping its body)
// and clears the mark bit on every survivor, as the big-object sweep
// in spec §4.5 requires. It returns the number of bytes freed.
func (t *bigObjectTable) freeUnmarked() (uintptr, error) {
	sort.Slice(t.descs, func(i, j int) bool {
		if t.descs[i].mark != t.descs[j].mark {
			return !t.descs[i].mark // unmarked first
		}
		return t.descs[i].body < t.descs[j].body
	})
	t.sorted = false

	var freed uintptr
	cut := 0
	for cut < len(t.descs) && !t.descs[cut].mark {
		if err := t.unmapIndex(cut); err != nil {
			return freed, err
		}
		freed += pageRoundUp(uintptr(t.descs[cut].sizeWords) * 8)
		cut++
	}
	survivors := t.descs[cut:]
	for i := range survivors {
		survivors[i].mark = false
	}
	t.descs = append(t.descs[:0], survivors...)
	t.resetBound(t.h.limit)
	return freed, nil
}

func (t *bigObjectTable) count() int { return len(t.descs) }
