// Package stdio allocates and tracks the stream endpoints connecting a
// parent process to one child: anonymous pipes, pseudo-terminal pairs,
// or the parent's own standard streams.
//
// Endpoints hand out raw non-blocking descriptors so a caller can drive
// them with poll(2) directly, bypassing the runtime's netpoller.
package stdio

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Mode selects the transport for one stream role.
type Mode int

const (
	// ModeDefault defers the choice to the spawn layer, which resolves
	// it before calling Open.
	ModeDefault Mode = iota
	// ModeInherit gives the child the parent's own descriptor for the
	// role. No endpoint is created.
	ModeInherit
	// ModePipe connects the role through an anonymous OS pipe.
	ModePipe
	// ModePTY connects the role through a pseudo-terminal pair with the
	// slave in raw mode, so bytes cross the boundary unmangled. For
	// output roles the child writes the slave and the master is the
	// endpoint; for stdin the child reads the master and the slave is
	// the endpoint, so that closing it never drops undelivered input.
	ModePTY
	// ModeMergeStdout is valid only for stderr: the child's stderr
	// duplicates whatever its stdout resolved to.
	ModeMergeStdout
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeInherit:
		return "inherit"
	case ModePipe:
		return "pipe"
	case ModePTY:
		return "pty"
	case ModeMergeStdout:
		return "merge"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Config holds the transport choice for each stream role.
type Config struct {
	Stdin  Mode
	Stdout Mode
	Stderr Mode
}

// Validate returns an error if a role carries a mode it cannot have.
func (c *Config) Validate() error {
	if c.Stdin == ModeMergeStdout {
		return fmt.Errorf("stdin cannot use mode %s", ModeMergeStdout)
	}
	if c.Stdout == ModeMergeStdout {
		return fmt.Errorf("stdout cannot use mode %s", ModeMergeStdout)
	}
	return nil
}

// Endpoint is the parent-side end of one pipe or PTY: the write side of
// the child's stdin, or the read side of its stdout or stderr.
// The descriptor is non-blocking, so Read and Write can surface EAGAIN.
// An Endpoint is not safe for concurrent use.
type Endpoint struct {
	role   string
	f      *os.File
	fd     int
	pty    bool
	closed bool
}

func newEndpoint(role string, f *os.File, isPTY bool) (*Endpoint, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("setting %s non-blocking; %w", role, err)
	}
	return &Endpoint{role: role, f: f, fd: fd, pty: isPTY}, nil
}

// Name returns the stream role this endpoint serves:
// "stdin", "stdout" or "stderr".
func (e *Endpoint) Name() string { return e.role }

// Fd returns the raw descriptor, for readiness registration.
func (e *Endpoint) Fd() int { return e.fd }

// IsPTY reports whether the endpoint is one end of a pseudo-terminal.
func (e *Endpoint) IsPTY() bool { return e.pty }

// Closed reports whether Close has run.
func (e *Endpoint) Closed() bool { return e.closed }

// Read reads straight from the descriptor.
func (e *Endpoint) Read(p []byte) (int, error) {
	n, err := unix.Read(e.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes straight to the descriptor. Short writes are the
// caller's to handle.
func (e *Endpoint) Write(p []byte) (int, error) {
	n, err := unix.Write(e.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close closes the descriptor. Second and later calls do nothing and
// return nil.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.f.Close()
}

// Set is the full complement of endpoints for one child process.
// In, Out and Err are nil for roles that are inherited or merged.
type Set struct {
	// In, when non-nil, is the write side of the child's stdin.
	In *Endpoint
	// Out, when non-nil, is the read side of the child's stdout.
	Out *Endpoint
	// Err, when non-nil, is the read side of the child's stderr.
	Err *Endpoint

	// Child-side files; these may alias the parent's own streams.
	childIn  *os.File
	childOut *os.File
	childErr *os.File

	// owned lists the child-side files this Set created and must close
	// once the child holds its own copies. Inherited streams are never
	// on this list.
	owned []*os.File
}

// Open allocates every pipe and PTY the config asks for. On failure,
// everything opened so far is closed; a failed Open never leaks a
// descriptor.
func Open(cfg Config) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Set{}
	var err error
	if s.In, s.childIn, err = s.openRole("stdin", cfg.Stdin, os.Stdin, false); err != nil {
		_ = s.CloseAll()
		return nil, err
	}
	if s.Out, s.childOut, err = s.openRole("stdout", cfg.Stdout, os.Stdout, true); err != nil {
		_ = s.CloseAll()
		return nil, err
	}
	if cfg.Stderr == ModeMergeStdout {
		s.childErr = s.childOut
		return s, nil
	}
	if s.Err, s.childErr, err = s.openRole("stderr", cfg.Stderr, os.Stderr, true); err != nil {
		_ = s.CloseAll()
		return nil, err
	}
	return s, nil
}

// openRole builds the endpoint and child-side file for one role.
// parentReads says which pipe end the parent keeps.
func (s *Set) openRole(role string, m Mode, inherit *os.File, parentReads bool) (*Endpoint, *os.File, error) {
	switch m {
	case ModeDefault, ModeInherit:
		return nil, inherit, nil
	case ModePipe:
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s pipe; %w", role, err)
		}
		parent, child := w, r
		if parentReads {
			parent, child = r, w
		}
		ep, err := newEndpoint(role, parent, false)
		if err != nil {
			_ = child.Close()
			return nil, nil, err
		}
		s.owned = append(s.owned, child)
		return ep, child, nil
	case ModePTY:
		master, slave, err := openPTY(role)
		if err != nil {
			return nil, nil, err
		}
		// The child writes the slave and the parent reads the master;
		// the slave closing lets the master drain and then read EIO.
		// Stdin runs the pair the other way around for the same
		// reason: closing a master discards anything the slave side
		// has not read yet, while closing the slave lets the child
		// drain its remaining input before end of stream.
		parent, child := master, slave
		if !parentReads {
			parent, child = slave, master
		}
		ep, err := newEndpoint(role, parent, true)
		if err != nil {
			_ = child.Close()
			return nil, nil, err
		}
		s.owned = append(s.owned, child)
		return ep, child, nil
	}
	return nil, nil, fmt.Errorf("%s cannot use mode %s", role, m)
}

// Attach wires the child-side files into the command.
func (s *Set) Attach(cmd *exec.Cmd) {
	cmd.Stdin = s.childIn
	cmd.Stdout = s.childOut
	cmd.Stderr = s.childErr
}

// CloseChildEnds closes the child-side descriptors in the parent.
// Call it once the child holds its own copies, i.e. after a successful
// start. The first close error wins; the sweep always completes.
func (s *Set) CloseChildEnds() error {
	var firstErr error
	for _, f := range s.owned {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.owned = nil
	return firstErr
}

// CloseAll releases everything the set still owns, each descriptor at
// most once. Safe to call at any point, any number of times.
func (s *Set) CloseAll() error {
	firstErr := s.CloseChildEnds()
	for _, e := range []*Endpoint{s.In, s.Out, s.Err} {
		if e == nil {
			continue
		}
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
