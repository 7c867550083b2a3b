package heap

import "testing"

// TestStressAllocateChain is scenario S1: a long linked chain rooted
// on the stack survives collection with every node's address distinct
// and its value field intact.
func TestStressAllocateChain(t *testing.T) {
	const n = 100000
	ctx := newTestContext(t, 256<<10, 32<<20)

	if err := ctx.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for i := 0; i < n; i++ {
		pushNode(t, ctx, 0, int64(i))
	}

	if _, err := ctx.Heap.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	seen := make(map[uintptr]bool, n)
	cur := ctx.stack[0]
	want := int64(n - 1)
	count := 0
	for cur != Constant(ConstEmpty) {
		addr := cur.UntagPointer()
		if seen[addr] {
			t.Fatalf("address %#x visited twice", addr)
		}
		seen[addr] = true
		if got := ctx.Heap.readValue(addr + 8).UntagSigned(); got != want {
			t.Fatalf("node %d: value = %d, want %d", count, got, want)
		}
		want--
		count++
		cur = ctx.Heap.readValue(addr)
	}
	if count != n {
		t.Fatalf("chain length after collection = %d, want %d", count, n)
	}
}

// TestDeadDropReclaimsSpace is scenario S2: dropping the only root to
// a burst of allocations and forcing a collection must let a second,
// equal-sized burst reuse that space.
func TestDeadDropReclaimsSpace(t *testing.T) {
	const n = 10000
	ctx := newTestContext(t, 4<<20, 32<<20)
	h := ctx.Heap

	if err := ctx.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for i := 0; i < n; i++ {
		pushNode(t, ctx, 0, int64(i))
	}
	pointerAfterFirst := h.Pointer()

	if _, err := ctx.Pop(); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if err := ctx.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for i := 0; i < n; i++ {
		pushNode(t, ctx, 0, int64(i))
	}
	pointerAfterSecond := h.Pointer()

	if pointerAfterSecond > pointerAfterFirst {
		t.Fatalf("pointer after second burst (%#x) > after first (%#x); dead prefix was not reclaimed",
			pointerAfterSecond, pointerAfterFirst)
	}
}

// TestBigObjectGraphSurvives is scenario S3: a big object referencing
// an inline object keeps the big body's address fixed while its
// reference slot tracks the inline object's post-compaction address.
func TestBigObjectGraphSurvives(t *testing.T) {
	ctx := newTestContext(t, 256<<10, 16<<20)
	h := ctx.Heap

	inlineBody, err := h.AllocateData(ctx, 1024)
	if err != nil {
		t.Fatalf("AllocateData: %v", err)
	}
	if err := ctx.Push(TagPointerValue(TagPointer, inlineBody)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	bigBody, err := h.AllocateBig(ctx, 2<<20, 0, 1)
	if err != nil {
		t.Fatalf("AllocateBig: %v", err)
	}
	if err := ctx.Push(TagPointerValue(TagPointer, bigBody)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	writeValueAt(bigBody, ctx.stack[0])

	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if got := ctx.stack[1].UntagPointer(); got != bigBody {
		t.Fatalf("big object body address changed: %#x -> %#x", bigBody, got)
	}
	wantInline := ctx.stack[0].UntagPointer()
	if got := readValueAt(bigBody).UntagPointer(); got != wantInline {
		t.Fatalf("big object's reference slot = %#x, want %#x", got, wantInline)
	}
}

// TestRelocationBufferSpill is scenario S4: compacting more live
// objects than the relocation buffer can hold in one batch must still
// patch every reference correctly, via partial fixup.
func TestRelocationBufferSpill(t *testing.T) {
	const keep = 60
	ctx := newTestContext(t, 256<<10, 4<<20)
	h := ctx.Heap
	h.relocsCap = 2 // force several flushes well before keep nodes are placed

	if err := ctx.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for i := 0; i < keep; i++ {
		if _, err := h.AllocateSlots(ctx, 1); err != nil { // unreachable filler
			t.Fatalf("AllocateSlots filler: %v", err)
		}
		pushNode(t, ctx, 0, int64(i))
	}

	interruptedMark, _ := h.mark(ctx, NoDeadline())
	if interruptedMark {
		t.Fatal("mark with NoDeadline must not interrupt")
	}
	if interrupted := h.compact(ctx, NoDeadline()); interrupted {
		t.Fatal("compact with NoDeadline must not interrupt")
	}

	seen := make(map[uintptr]bool, keep)
	cur := ctx.stack[0]
	want := int64(keep - 1)
	count := 0
	for cur != Constant(ConstEmpty) {
		addr := cur.UntagPointer()
		if seen[addr] {
			t.Fatalf("address %#x visited twice", addr)
		}
		seen[addr] = true
		if got := h.readValue(addr + 8).UntagSigned(); got != want {
			t.Fatalf("node %d: value = %d, want %d", count, got, want)
		}
		want--
		count++
		cur = h.readValue(addr)
	}
	if count != keep {
		t.Fatalf("chain length = %d, want %d", count, keep)
	}
}

// TestForwardReferenceSurvivesMidPassFlush exercises the case a pure
// backward-linked chain never reaches: a live object (a) whose only
// reference points to another live object (b) that sits further
// along the heap and has not been compacted yet at the moment a
// mid-pass flush patches a's field. With relocsCap forced to 1, every
// single relocation triggers its own flush, so this is guaranteed to
// happen well before either object reaches the end of the pass.
func TestForwardReferenceSurvivesMidPassFlush(t *testing.T) {
	ctx := newTestContext(t, 256<<10, 4<<20)
	h := ctx.Heap
	h.relocsCap = 1

	garbage, err := h.AllocateSlots(ctx, 1)
	if err != nil {
		t.Fatalf("AllocateSlots garbage: %v", err)
	}
	_ = garbage // left unrooted: dead weight the first live object slides over

	liveObj1, err := h.AllocateSlots(ctx, 1)
	if err != nil {
		t.Fatalf("AllocateSlots liveObj1: %v", err)
	}
	if err := ctx.Push(TagPointerValue(TagPointer, liveObj1)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	a, err := h.AllocateSlots(ctx, 1)
	if err != nil {
		t.Fatalf("AllocateSlots a: %v", err)
	}
	if err := ctx.Push(TagPointerValue(TagPointer, a)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	aRootSlot := ctx.StackDepth() - 1

	const sentinel = int64(424242)
	b, err := h.AllocateSlots(ctx, 1)
	if err != nil {
		t.Fatalf("AllocateSlots b: %v", err)
	}
	h.writeValue(b, TagInteger(sentinel))
	h.writeValue(a, TagPointerValue(TagPointer, b)) // a's only reference points forward to b

	if interrupted, _ := h.mark(ctx, NoDeadline()); interrupted {
		t.Fatal("mark with NoDeadline must not interrupt")
	}
	if interrupted := h.compact(ctx, NoDeadline()); interrupted {
		t.Fatal("compact with NoDeadline must not interrupt")
	}

	newA := ctx.stack[aRootSlot].UntagPointer()
	bRef := h.readValue(newA)
	if !bRef.IsPointer() {
		t.Fatalf("a's field lost its pointer tag across the pass: %v", bRef)
	}
	if got := h.readValue(bRef.UntagPointer()).UntagSigned(); got != sentinel {
		t.Fatalf("a->b was corrupted by a mid-pass flush: read %d at the far end, want %d", got, sentinel)
	}
}

// TestDeadlineDuringCompactPreservesUnmovedSuffix exercises the
// compact-phase interrupt branch directly (S5's NewDeadline(0) only
// ever interrupts mark, never compact). It forces a deadline that is
// already expired by the time compact's first post-step check runs,
// so the pass stops after moving at most one object, and checks that
// the not-yet-compacted suffix — live objects compact never got to —
// is neither zeroed nor shifted: h.pointer stays exactly where the
// pass started, and a root pointing past the first step still reads
// its original, untouched value.
func TestDeadlineDuringCompactPreservesUnmovedSuffix(t *testing.T) {
	ctx := newTestContext(t, 256<<10, 4<<20)
	h := ctx.Heap

	head, err := h.AllocateSlots(ctx, 1)
	if err != nil {
		t.Fatalf("AllocateSlots head: %v", err)
	}
	if err := ctx.Push(TagPointerValue(TagPointer, head)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	const sentinel = int64(987654)
	tail, err := h.AllocateSlots(ctx, 1)
	if err != nil {
		t.Fatalf("AllocateSlots tail: %v", err)
	}
	h.writeValue(tail, TagInteger(sentinel))
	if err := ctx.Push(TagPointerValue(TagPointer, tail)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	tailRootSlot := ctx.StackDepth() - 1

	origEnd := h.pointer

	if interrupted, _ := h.mark(ctx, NoDeadline()); interrupted {
		t.Fatal("mark with NoDeadline must not interrupt")
	}
	if interrupted := h.compact(ctx, NewDeadline(0)); !interrupted {
		t.Fatal("compact with an already-expired deadline must report interrupted")
	}

	if h.pointer != origEnd {
		t.Fatalf("h.pointer moved across an interrupted pass: got %#x, want %#x (origEnd)", h.pointer, origEnd)
	}

	tailRef := ctx.stack[tailRootSlot]
	if !tailRef.IsPointer() {
		t.Fatalf("tail root lost its pointer tag across an interrupted pass: %v", tailRef)
	}
	if got := h.readValue(tailRef.UntagPointer()).UntagSigned(); got != sentinel {
		t.Fatalf("unmoved suffix corrupted by an interrupted pass: read %d, want %d", got, sentinel)
	}
}

// TestDeadlineInterruptionRecoversFully is scenario S5: an
// immediately-expired deadline interrupts the mark phase but leaves
// the heap in a state from which a subsequent full collection
// recovers exactly what a single full collection would have.
func TestDeadlineInterruptionRecoversFully(t *testing.T) {
	const n = 2000
	mk := func() (*Context, int64) {
		ctx := newTestContext(t, 1<<20, 16<<20)
		if err := ctx.Push(Constant(ConstEmpty)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		for i := 0; i < n; i++ {
			pushNode(t, ctx, 0, int64(i))
		}
		return ctx, int64(n)
	}

	baseline := newTestContext(t, 1<<20, 16<<20)
	if err := baseline.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for i := 0; i < n; i++ {
		pushNode(t, baseline, 0, int64(i))
	}
	if _, err := baseline.Heap.Collect(baseline, NoDeadline(), true); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	wantPointer := baseline.Heap.Pointer() - baseline.Heap.Base()

	ctx, _ := mk()
	kind, err := ctx.Heap.Collect(ctx, NewDeadline(0), false)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if kind != CycleIncremental {
		t.Fatalf("kind = %v, want incremental", kind)
	}
	if !ctx.Heap.stats.LastInterrupted {
		t.Fatal("a zero-latency deadline should interrupt the mark phase")
	}

	if _, err := ctx.Heap.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := ctx.Heap.Pointer() - ctx.Heap.Base(); got != wantPointer {
		t.Fatalf("pointer offset after recovery = %#x, want %#x (same as uninterrupted baseline)", got, wantPointer)
	}
}

// TestArithmeticOverflowAndDivideByZero is scenario S6.
func TestArithmeticOverflowAndDivideByZero(t *testing.T) {
	add := func(a, b int64) Value {
		sum := a + b
		if sum > MaxSmallInteger || sum < MinSmallInteger {
			return Error(ErrOverflow)
		}
		return TagInteger(sum)
	}
	sub := func(a, b int64) Value {
		diff := a - b
		if diff > MaxSmallInteger || diff < MinSmallInteger {
			return Error(ErrOverflow)
		}
		return TagInteger(diff)
	}
	div := func(a, b int64) Value {
		if b == 0 {
			return Error(ErrDivideByZero)
		}
		return TagInteger(a / b)
	}

	if v := add(MaxSmallInteger, 1); !v.IsError() || v.ErrorName() != "Overflow" {
		t.Fatalf("MaxSmallInteger+1 = %v, want Overflow", v)
	}
	if v := sub(MinSmallInteger, 1); !v.IsError() || v.ErrorName() != "Overflow" {
		t.Fatalf("MinSmallInteger-1 = %v, want Overflow", v)
	}
	if v := div(7, 0); !v.IsError() || v.ErrorName() != "Divide-By-Zero" {
		t.Fatalf("7/0 = %v, want Divide-By-Zero", v)
	}
}

// TestAlignmentInvariant is property 3: after allocation and after
// collection, every header satisfies (header+8) mod 16 == 0.
func TestAlignmentInvariant(t *testing.T) {
	ctx := newTestContext(t, 256<<10, 4<<20)
	h := ctx.Heap

	if err := ctx.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sizes := []int{0, 1, 7, 8, 9, 15, 16, 17, 100}
	for i, n := range sizes {
		body, err := h.AllocateData(ctx, n)
		if err != nil {
			t.Fatalf("AllocateData(%d): %v", n, err)
		}
		if body%HeapAlignment != 0 {
			t.Fatalf("allocation %d body %#x is not 16-byte aligned", i, body)
		}
	}

	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	addr := h.base
	for addr < h.pointer {
		hdr := h.headerAt(addr)
		if hdr.size == 0 {
			addr += HeaderSize
			continue
		}
		if bodyOf(addr)%HeapAlignment != 0 {
			t.Fatalf("post-collection body at header %#x is not 16-byte aligned", addr)
		}
		addr += HeaderSize + uintptr(hdr.size)*8
	}
}

// TestIdempotentFullCollect is property 5.
func TestIdempotentFullCollect(t *testing.T) {
	const n = 500
	ctx := newTestContext(t, 256<<10, 8<<20)
	h := ctx.Heap

	if err := ctx.Push(Constant(ConstEmpty)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	for i := 0; i < n; i++ {
		pushNode(t, ctx, 0, int64(i))
	}

	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect (1st): %v", err)
	}
	firstPointer := h.Pointer()
	firstHead := ctx.stack[0]

	if _, err := h.Collect(ctx, NoDeadline(), true); err != nil {
		t.Fatalf("Collect (2nd): %v", err)
	}
	if h.Pointer() != firstPointer {
		t.Fatalf("pointer changed across idempotent full collect: %#x -> %#x", firstPointer, h.Pointer())
	}
	if ctx.stack[0] != firstHead {
		t.Fatalf("root changed across idempotent full collect: %v -> %v", firstHead, ctx.stack[0])
	}
}
