package procmux

import (
	"fmt"
	"time"
)

// StartError reports that a child process could not be spawned at all:
// a missing binary, a fork or exec failure, or a stream that could not
// be opened. It wraps the underlying cause.
type StartError struct {
	Cmd string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %q; %v", e.Cmd, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// TimeoutError reports that a child made no observable progress before
// the deadline. The handle survives: the caller may create a fresh
// iterator to keep reading, or kill and reap. Communicate does the
// latter itself before returning this error.
type TimeoutError struct {
	Cmd     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Cmd, e.Timeout)
}

// PollError reports that the readiness primitive flagged a registered
// descriptor as erroring or invalid. The usual cause is a child that
// exited while a large stdin payload was still pending. The handle is
// not usable for further multiplexing.
type PollError struct {
	Cmd    string
	Stream string
	Events int16
}

func (e *PollError) Error() string {
	return fmt.Sprintf(
		"command %q; poll reported events %#x on %s", e.Cmd, e.Events, e.Stream)
}

// NonZeroExitError is the strict runner's rendition of a clean exit
// with a non-zero code.
type NonZeroExitError struct {
	Cmd  string
	Code int
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Cmd, e.Code)
}
