// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// HeapAlignment is the alignment, in bytes, every object body
	// must satisfy: (header address + HeaderSize) % HeapAlignment == 0.
	HeapAlignment = 16
	// HeaderSize is the fixed width of an inline object header.
	HeaderSize = 8
	// MinHeapSize is the smallest usable inline heap this runtime
	// will start with; below this, initialize fails fatally.
	MinHeapSize = 64 * 1024
	// MaxHeapObjectSize bounds, in words, the largest object the
	// inline bump allocator will handle; above it, allocation
	// routes to the big-object path.
	MaxHeapObjectSize = 4096
	// MaxBigObjectSize bounds, in words, the largest object
	// allocate_big will accept before returning a fatal size error.
	MaxBigObjectSize = (1 << 32) / 8
)

// header is the 8-byte metadata word immediately preceding an
// inline object's body. size == 0 marks a zero-sized padding header.
type header struct {
	size       uint16
	scanOffset uint16
	scanSize   uint16
	reserved   uint16
}

func init() {
	if unsafe.Sizeof(header{}) != HeaderSize {
		panic("heap: header size invariant broken")
	}
}

// relocation is one entry of the compaction relocation buffer: the
// object that was at slot src moved down by diff slots.
type relocation struct {
	src  uint32
	diff uint32
}

const relocationSize = 8 // unsafe.Sizeof(relocation{})

// Heap is the inline bump heap plus its GC metadata and big-object
// table. It owns exactly one OS mapping, released in Release.
type Heap struct {
	mem     []byte  // the full OS reservation
	memBase uintptr // address of &mem[0]

	base    uintptr // start of live region (== memBase)
	pointer uintptr // bump pointer: end of live region / start of free space
	limit   uintptr // end of usable inline heap; start of GC metadata

	relocsAddr uintptr // start of relocation buffer
	relocsCap  uint32  // capacity in entries
	bitmapAddr uintptr // start of mark bitmap
	bitmapLen  uintptr // length in 64-bit words

	reservedSize uintptr // total size of mem
	usableSize   uintptr // current live+free budget (<= reservedSize)

	big bigObjectTable

	// markNext links the mark worklist by header slot, in place of a
	// literal mark_next overlay on the 8-byte header (see DESIGN.md):
	// markNext[slot] is the next slot in the worklist, or -1. Sized to
	// the full reservation once, since usableSize only ever grows
	// within it.
	markNext []int32

	// maxHeapObjectWords and maxBigObjectWords are this heap's
	// resolved (config-or-default) object-size ceilings, in words.
	maxHeapObjectWords uintptr
	maxBigObjectWords  uintptr

	stats  Stats
	config HeapConfig
}

// HeapConfig sizes a new Heap.
type HeapConfig struct {
	UsableSize   uintptr       // initial inline heap budget, including metadata
	ReservedSize uintptr       // total virtual reservation; usable may grow up to this
	GCLatency    time.Duration // incremental-cycle deadline; 0 means the package default

	// MaxHeapObjectWords and MaxBigObjectWords override
	// MaxHeapObjectSize/MaxBigObjectSize (in words) for this heap; 0
	// means the package default.
	MaxHeapObjectWords uintptr
	MaxBigObjectWords  uintptr
}

// NewHeap reserves ReservedSize bytes from the OS and lays out an
// inline heap of UsableSize bytes within it, per setUsableSize.
func NewHeap(cfg HeapConfig) (*Heap, error) {
	if cfg.UsableSize < MinHeapSize {
		return nil, &FatalError{Op: "new_heap", Reason: "heap reservation below MinHeapSize"}
	}
	if cfg.ReservedSize < cfg.UsableSize {
		cfg.ReservedSize = cfg.UsableSize
	}
	mem, err := unix.Mmap(-1, 0, int(cfg.ReservedSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, wrapOSError("new_heap", err)
	}
	h := &Heap{
		mem:          mem,
		memBase:      uintptr(unsafe.Pointer(&mem[0])),
		reservedSize: cfg.ReservedSize,
		config:       cfg,
	}
	h.base = h.memBase
	h.pointer = h.base
	h.markNext = make([]int32, cfg.ReservedSize/HeaderSize)
	h.maxHeapObjectWords = cfg.MaxHeapObjectWords
	if h.maxHeapObjectWords == 0 {
		h.maxHeapObjectWords = MaxHeapObjectSize
	}
	h.maxBigObjectWords = cfg.MaxBigObjectWords
	if h.maxBigObjectWords == 0 {
		h.maxBigObjectWords = MaxBigObjectSize
	}
	h.setUsableSize(cfg.UsableSize)
	h.big.init(h)
	return h, nil
}

// Release unmaps every live big-object body, then the reservation
// itself. It must be called exactly once, at context teardown.
func (h *Heap) Release() error {
	if err := h.big.releaseAll(); err != nil {
		return err
	}
	if h.mem == nil {
		return nil
	}
	err := unix.Munmap(h.mem)
	h.mem = nil
	return err
}

// setUsableSize is the master sizing routine (spec: set_heap_base).
// It aligns size down to HeapAlignment, carves relocation buffer and
// mark bitmap off the high end, and places pointer at base and limit
// just below the metadata. It preserves the current bump-pointer
// offset from base, so it also serves resize_heap's "preserve pointer"
// requirement.
func (h *Heap) setUsableSize(size uintptr) {
	size &^= uintptr(HeapAlignment - 1)

	relocCount := size / 32
	if relocCount > 0xffffffff {
		relocCount = 0xffffffff
	}
	relocsBytes := uintptr(relocCount) * relocationSize

	headerSlots := size / HeaderSize
	bitmapWords := (headerSlots + 63) / 64
	bitmapBytes := bitmapWords * 8

	metadata := relocsBytes + bitmapBytes
	if metadata >= size {
		// Degenerate tiny-heap case: shrink metadata proportionally
		// rather than producing a negative-size live region.
		metadata = size / 2
		relocsBytes = metadata / 2
		bitmapBytes = metadata - relocsBytes
		relocCount = relocsBytes / relocationSize
		bitmapWords = bitmapBytes / 8
	}

	offset := h.pointer - h.base // preserve bump offset across resizes
	h.usableSize = size
	h.limit = h.base + size - metadata
	h.relocsAddr = h.limit
	h.relocsCap = uint32(relocCount)
	h.bitmapAddr = h.relocsAddr + relocsBytes
	h.bitmapLen = bitmapWords
	h.pointer = h.base + offset
	if h.pointer > h.limit {
		h.pointer = h.limit
	}
	h.big.resetBound(h.limit)
}

// ResizeHeap expands the live inline region to newSize bytes, if that
// fits within the original OS reservation. The mapping itself is
// never grown or shrunk.
func (h *Heap) ResizeHeap(newSize uintptr) error {
	if newSize > h.reservedSize {
		return errHeapExhausted
	}
	h.setUsableSize(newSize)
	return nil
}

// --- raw memory access -----------------------------------------------

func (h *Heap) offset(addr uintptr) uintptr { return addr - h.memBase }

func (h *Heap) headerAt(addr uintptr) *header {
	return (*header)(unsafe.Pointer(&h.mem[h.offset(addr)]))
}

func (h *Heap) readValue(addr uintptr) Value {
	return *(*Value)(unsafe.Pointer(&h.mem[h.offset(addr)]))
}

func (h *Heap) writeValue(addr uintptr, v Value) {
	*(*Value)(unsafe.Pointer(&h.mem[h.offset(addr)])) = v
}

func (h *Heap) bytesAt(addr uintptr, n uintptr) []byte {
	o := h.offset(addr)
	return h.mem[o : o+n]
}

// Bytes exposes bytesAt for ABI-level consumers (e.g. Concat) that
// need to copy raw string payloads.
func (h *Heap) Bytes(addr uintptr, n int) []byte {
	return h.bytesAt(addr, uintptr(n))
}

// align rounds a up to HeapAlignment.
func align(a uintptr) uintptr {
	return (a + HeapAlignment - 1) &^ (HeapAlignment - 1)
}

// bodyOf returns the body address immediately following a header at
// addr.
func bodyOf(addr uintptr) uintptr { return addr + HeaderSize }

// Base, Pointer and Limit expose the current layout for tests and
// diagnostics.
func (h *Heap) Base() uintptr    { return h.base }
func (h *Heap) Pointer() uintptr { return h.pointer }
func (h *Heap) Limit() uintptr   { return h.limit }
