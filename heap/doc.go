// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

// Package heap implements the OME managed heap: a tagged-value
// encoding, a two-region allocator (inline bump heap plus externally
// mapped big objects), and a single-threaded precise sliding
// mark-compact collector.
//
// Layout of an inline object:
//
//	[header 8 bytes][body, 16-byte aligned, size words]
//
// The live region of the heap is a sequence of header-prefixed
// objects from base to pointer, followed by free bump space up to
// limit, followed by GC metadata (relocation buffer, then mark
// bitmap):
//
//	[base ............. pointer ... limit][relocs][bitmap]
//	 \_______ live objects ______/ \_free_/
//
// A Value is one tagged machine word:
//
//	(8888) pppp  pppp ... pppp
//	 tag    payload (56 bits)
//
// tag 0   small integer (signed payload)
// tag 1   constant (False, True, Empty, Less, Equal, Greater, ...)
// tag 2   error (Type-Error, Overflow, Divide-By-Zero, Size-Error, ...)
// tag >=3 pointer-class; payload is the low bits of an aligned address
//
// Collection is tri-phase: mark (root-seeded, iterative, bitmap-based),
// compact (sliding, deadline-bounded, relocation-table-driven), and a
// big-object sweep. Both mark and compact may return early when a
// deadline expires, leaving the heap fully traversable.
package heap
