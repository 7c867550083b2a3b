package heap

import "unsafe"

// uintptrOf returns the address of a byte slice's backing storage.
// Used only for OS-mapped slices (big-object bodies, the heap
// reservation), which Go's GC never moves.
func uintptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// sliceFromAddr reconstructs a byte slice view over a previously
// mapped region, for handing back to unix.Munmap.
func sliceFromAddr(addr uintptr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

// readValueAt and writeValueAt access a Value at a raw address
// outside h.mem: used only for big-object bodies, each its own OS
// mapping never tracked by a Go slice at the call site.
func readValueAt(addr uintptr) Value {
	return *(*Value)(unsafe.Pointer(addr))
}

func writeValueAt(addr uintptr, v Value) {
	*(*Value)(unsafe.Pointer(addr)) = v
}
