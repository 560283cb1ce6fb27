package procmux

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// status is one reap record. A new pointer is published on every
// change, so lock-free readers always see a consistent pair.
type status struct {
	code   int
	reaped bool
}

// Wait blocks until the child has been reaped and returns its exit
// code. A child killed by a signal reports -1, the os/exec convention.
// Safe to call repeatedly and concurrently; only one caller performs
// the actual wait, everyone else gets the recorded result.
func (h *Handle) Wait() (int, error) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	return h.waitLocked()
}

// waitLocked does the blocking reap. Callers hold statusMu.
func (h *Handle) waitLocked() (int, error) {
	if st := h.last.Load(); st.reaped {
		return st.code, nil
	}
	err := h.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The wait itself failed; the child may still be unreaped.
			return -1, fmt.Errorf("waiting on %q; %w", h.line, err)
		}
	}
	code := h.cmd.ProcessState.ExitCode()
	h.last.Store(&status{code: code, reaped: true})
	logger.Debug().Int("pid", h.Pid()).Int("code", code).Msg("reaped")
	return code, nil
}

// Poll reports the child's status without ever blocking. While another
// goroutine holds the status guard (a Wait or a multiplexer step in
// flight), Poll answers from the last recorded state, which may be
// stale: (0, false) if the child was never seen to exit. On acquiring
// the guard it checks for an exit without waiting and records any
// result.
func (h *Handle) Poll() (code int, exited bool) {
	if !h.statusMu.TryLock() {
		st := h.last.Load()
		return st.code, st.reaped
	}
	defer h.statusMu.Unlock()
	st := h.last.Load()
	if st.reaped {
		return st.code, true
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(h.Pid(), &ws, unix.WNOHANG, nil)
	if err != nil || pid != h.Pid() {
		return st.code, false
	}
	code = -1
	if ws.Exited() {
		code = ws.ExitStatus()
	}
	h.last.Store(&status{code: code, reaped: true})
	logger.Debug().Int("pid", h.Pid()).Int("code", code).Msg("reaped by poll")
	return code, true
}
