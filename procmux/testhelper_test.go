package procmux_test

import (
	"testing"
	"time"

	. "github.com/minzhuogoogle/gke-on-prem/procmux"
)

const theShell = "/bin/sh"

const (
	timeOutLong = 5 * time.Second
	// timeOutShort is a "short" timeout, for happy cases.
	timeOutShort = 800 * time.Millisecond
	timeOutTiny  = 200 * time.Millisecond
)

// drain walks an iterator to the end, concatenating per channel.
func drain(it *OutputIter) (out, errOut []byte, err error) {
	for it.Next() {
		out = append(out, it.Stdout()...)
		errOut = append(errOut, it.Stderr()...)
	}
	return out, errOut, it.Err()
}

func assertNoErr(err error) {
	if err != nil {
		panic("example failure: unexpected err: " + err.Error())
	}
}

// waitExited spins until the child has been seen to exit, so tests can
// set up an already-dead process deterministically.
func waitExited(t *testing.T, h *Handle) {
	t.Helper()
	deadline := time.Now().Add(timeOutLong)
	for {
		if _, exited := h.Poll(); exited {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("process %d refused to exit", h.Pid())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
