// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

// Package abi is the runtime contract generated code depends on
// (spec.md §6): thin, directly-testable wrappers over heap.Context
// and heap.Heap. It adds no behavior of its own beyond the one thing
// the distilled spec names but does not elaborate: concat's overflow
// check against the 2^32-1 byte size limit.
package abi

import (
	"io"
	"strconv"

	"github.com/shaurz/ome/heap"
)

// MaxConcatSize is the largest byte length Concat will produce before
// returning Size_Error, per spec.md §7.
const MaxConcatSize = (1 << 32) - 1

func Allocate(ctx *heap.Context, size int, scanOffset, scanSize uint16) (uintptr, error) {
	return ctx.Heap.Allocate(ctx, size, scanOffset, scanSize)
}

func AllocateData(ctx *heap.Context, n int) (uintptr, error) {
	return ctx.Heap.AllocateData(ctx, n)
}

func AllocateSlots(ctx *heap.Context, n int) (uintptr, error) {
	return ctx.Heap.AllocateSlots(ctx, n)
}

func AllocateArray(ctx *heap.Context, n int) (uintptr, error) {
	return ctx.Heap.AllocateArray(ctx, n)
}

func AllocateString(ctx *heap.Context, n int) (uintptr, error) {
	return ctx.Heap.AllocateString(ctx, n)
}

func PushFrame(ctx *heap.Context, slotCount int) error { return ctx.PushFrame(slotCount) }
func PopFrame(ctx *heap.Context, slotCount int) error  { return ctx.PopFrame(slotCount) }
func AppendTraceback(ctx *heap.Context, entryID uint32) { ctx.AppendTraceback(entryID) }

func TagPointer(tag heap.Tag, addr uintptr) heap.Value { return heap.TagPointerValue(tag, addr) }
func UntagPointer(v heap.Value) uintptr                { return v.UntagPointer() }
func TagInteger(n int64) heap.Value                    { return heap.TagInteger(n) }
func UntagSigned(v heap.Value) int64                   { return v.UntagSigned() }
func GetTag(v heap.Value) heap.Tag                     { return v.Tag() }
func IsError(v heap.Value) bool                        { return v.IsError() }
func Error(kind heap.Value) heap.Value                 { return heap.Error(kind) }
func StripError(v heap.Value) heap.Value               { return v.StripError() }
func Boolean(b bool) heap.Value                        { return heap.Boolean(b) }

// Print writes value's diagnostic form to stream: errors print their
// name, small integers print in decimal, pointer-class values print
// the fixed placeholder "#<object>" and any other constant prints
// "#<constant>" (generated code is expected to dispatch to a
// user-defined printOn: method for anything richer; that dispatch
// lives outside this runtime's scope).
func Print(stream io.Writer, v heap.Value) {
	switch {
	case v.IsError():
		io.WriteString(stream, v.ErrorName())
	case v.Tag() == heap.TagSmallInteger:
		io.WriteString(stream, strconv.FormatInt(v.UntagSigned(), 10))
	case v.IsPointer():
		io.WriteString(stream, "#<object>")
	default:
		io.WriteString(stream, "#<constant>")
	}
}

func PrintTraceback(stream io.Writer, table heap.TracebackTable, ctx *heap.Context, err heap.Value) {
	heap.PrintTraceback(stream, table, ctx, err)
}

// Concat allocates a new string body sized to the sum of lens and
// copies each source string's bytes into it in order. It is the one
// operation spec.md §4.8 calls out for an explicit overflow check:
// exceeding MaxConcatSize yields Size_Error rather than allocating.
func Concat(ctx *heap.Context, sources []uintptr, lens []int) (heap.Value, error) {
	var total int64
	for _, n := range lens {
		total += int64(n)
		if total > MaxConcatSize {
			return heap.Error(heap.ErrSizeError), nil
		}
	}
	body, err := ctx.Heap.AllocateString(ctx, int(total))
	if err != nil {
		return 0, err
	}
	off := 0
	for i, src := range sources {
		n := lens[i]
		copy(ctx.Heap.Bytes(body+uintptr(off), n), ctx.Heap.Bytes(src, n))
		off += n
	}
	return heap.TagPointerValue(heap.TagPointer, body), nil
}
