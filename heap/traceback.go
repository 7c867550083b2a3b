// Copyright 2013 Vadim Vygonets. All rights reserved.
// Use of this source code is governed by the Bugroff
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
)

// TracebackEntry is one row of the table a code generator provides,
// indexed by the 32-bit ids passed to Context.AppendTraceback.
type TracebackEntry struct {
	StreamName string
	LineNumber int
	MethodName string
	SourceLine string
	Column     int
	Underline  int
}

// TracebackTable is the immutable lookup table spec's "provided by
// codegen" surface refers to.
type TracebackTable []TracebackEntry

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiRed   = "\x1b[31m"
	ansiDim   = "\x1b[2m"
)

// PrintTraceback walks the context's recorded entries newest-first,
// emitting one line per entry via table, then the stripped error
// message. Coloring is applied only when w is a terminal.
func PrintTraceback(w io.Writer, table TracebackTable, ctx *Context, err Value) {
	color := isTerminal(w)
	for _, id := range ctx.TracebackEntries() {
		if int(id) >= len(table) {
			continue
		}
		e := table[id]
		if color {
			fmt.Fprintf(w, "  %sFile \"%s\", line %d, in %s%s\n", ansiDim, e.StreamName, e.LineNumber, e.MethodName, ansiReset)
			fmt.Fprintf(w, "    %s\n", e.SourceLine)
			if e.Underline > 0 {
				fmt.Fprintf(w, "    %*s%s%s%s\n", e.Column, "", ansiRed, underline(e.Underline), ansiReset)
			}
		} else {
			fmt.Fprintf(w, "  File %q, line %d, in %s\n", e.StreamName, e.LineNumber, e.MethodName)
			fmt.Fprintf(w, "    %s\n", e.SourceLine)
		}
	}
	name := err.ErrorName()
	if color {
		fmt.Fprintf(w, "%s%s%s\n", ansiBold+ansiRed, name, ansiReset)
	} else {
		fmt.Fprintln(w, name)
	}
}

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '^'
	}
	return string(b)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
