package heap

import "testing"

// newTestContext builds a Context sized for a test and arranges for
// its heap mapping to be released when the test ends.
func newTestContext(t *testing.T, usableSize, reservedSize uintptr) *Context {
	t.Helper()
	ctx, err := NewContext(ContextConfig{
		Heap: HeapConfig{UsableSize: usableSize, ReservedSize: reservedSize},
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() {
		if err := ctx.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return ctx
}

// pushNode allocates a two-slot object {next, value}, links it in
// front of the chain rooted at ctx.stack[rootSlot], and leaves the new
// head written back to that slot. It re-reads the root only after
// the allocation completes, since a collection inside AllocateSlots
// may have relocated whatever the root pointed to.
func pushNode(t *testing.T, ctx *Context, rootSlot int, value int64) uintptr {
	t.Helper()
	body, err := ctx.Heap.AllocateSlots(ctx, 2)
	if err != nil {
		t.Fatalf("AllocateSlots: %v", err)
	}
	ctx.Heap.writeValue(body, ctx.stack[rootSlot])
	ctx.Heap.writeValue(body+8, TagInteger(value))
	ctx.stack[rootSlot] = TagPointerValue(TagPointer, body)
	return body
}
