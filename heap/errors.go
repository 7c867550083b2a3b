package heap

import (
	"fmt"

	"github.com/pkg/errors"
)

// FatalError reports a condition spec §7 says must end the process:
// memory exhausted after the full escalation ladder, an undersized
// heap reservation at startup, or an oversized big-object request.
// Modeled after the teacher's Errno/*Error split: Op names the call
// site, Reason is human text, Cause (if any) is the wrapped OS or
// config error.
type FatalError struct {
	Op     string
	Reason string
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ome: %s: %s: %s", e.Op, e.Reason, e.Cause)
	}
	return fmt.Sprintf("ome: %s: %s", e.Op, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Cause }

var errHeapExhausted = &FatalError{Op: "allocate", Reason: "memory exhausted, aborting"}

// wrapOSError attaches op/context to an OS-level failure (mmap,
// munmap) without discarding the underlying error, matching the
// ambient error-wrapping convention described in SPEC_FULL.md §7.
func wrapOSError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Op: op, Reason: "OS mapping failed", Cause: errors.WithStack(err)}
}
