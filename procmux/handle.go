package procmux

import (
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

// Handle is a live child process together with the state needed to feed
// it input, multiplex its output, and reap it exactly once.
//
// Status calls (Poll, Wait, ExitCode) and signals may be used from any
// goroutine, including while an iterator runs. Iterators themselves are
// single-file: drive at most one at a time.
type Handle struct {
	cmd  *exec.Cmd
	line string
	set  *stdio.Set

	// Pending stdin bytes, consumed left to right by the multiplexer.
	input []byte

	buffering Buffering
	timeout   time.Duration

	// Accumulated-but-unyielded output. These survive iterator
	// abandonment; the next iterator, or Communicate, picks them up.
	outBuf []byte
	errBuf []byte

	// statusMu is the status guard: it serializes everything that can
	// reap the child. last is written only while holding it.
	statusMu sync.Mutex
	last     atomic.Pointer[status]
}

// Spawn validates the spec, opens the requested stream transports,
// starts the child, and releases the child-side descriptors. A child
// that cannot be started yields a *StartError, and nothing is left
// open.
func Spawn(spec *Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.clone()
	set, err := stdio.Open(spec.streams())
	if err != nil {
		return nil, &StartError{Cmd: spec.commandLine(), Err: err}
	}
	var cmd *exec.Cmd
	if spec.Shell != "" {
		cmd = exec.Command("/bin/sh", "-c", spec.Shell)
	} else {
		cmd = exec.Command(spec.Argv[0], spec.Argv[1:]...)
	}
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	set.Attach(cmd)
	if err = cmd.Start(); err != nil {
		_ = set.CloseAll()
		return nil, &StartError{Cmd: spec.commandLine(), Err: err}
	}
	// The child holds its own stream copies now.
	if err = set.CloseChildEnds(); err != nil {
		logger.Debug().Err(err).Msg("closing child ends")
	}
	h := &Handle{
		cmd:       cmd,
		line:      spec.commandLine(),
		set:       set,
		input:     spec.Input,
		buffering: spec.Buffering,
		timeout:   spec.Timeout,
	}
	h.last.Store(&status{})
	logger.Debug().
		Str("cmd", abbrev(h.line)).
		Int("pid", h.Pid()).
		Msg("spawned")
	return h, nil
}

// Pid returns the child's process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// CommandLine returns the command as given, for logs and errors.
func (h *Handle) CommandLine() string { return h.line }

// Stdin returns the write side of the child's stdin, nil when stdin is
// not a pipe or PTY.
func (h *Handle) Stdin() *stdio.Endpoint { return h.set.In }

// Stdout returns the read side of the child's stdout, nil when stdout
// is not a pipe or PTY.
func (h *Handle) Stdout() *stdio.Endpoint { return h.set.Out }

// Stderr returns the read side of the child's stderr, nil when stderr
// is not a pipe or PTY.
func (h *Handle) Stderr() *stdio.Endpoint { return h.set.Err }

// ExitCode returns the last reaped exit status. The bool is false until
// the child has been reaped by Wait, Poll, or the end of an iteration.
func (h *Handle) ExitCode() (int, bool) {
	st := h.last.Load()
	return st.code, st.reaped
}

// Signal sends sig to the child.
func (h *Handle) Signal(sig os.Signal) error {
	return h.cmd.Process.Signal(sig)
}

// Terminate asks the child to exit (SIGTERM).
func (h *Handle) Terminate() error { return h.Signal(unix.SIGTERM) }

// Kill ends the child forcibly (SIGKILL). The child still needs a reap
// afterward; see Wait.
func (h *Handle) Kill() error { return h.Signal(unix.SIGKILL) }

// Close releases every endpoint still open. It neither signals nor
// reaps the child. Safe to call any number of times; use it when
// abandoning a handle whose iteration did not run to the end.
func (h *Handle) Close() error { return h.set.CloseAll() }
