package procmux

import (
	"fmt"
	"strings"
	"time"

	"github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

// Buffering selects how output bytes are grouped into chunks, and how
// pending input is chunked per write. The integer encoding is part of
// the interface: any negative value is maximal, 0 is unbuffered, 1 is
// line buffering, and any value above 1 is a fixed block size in bytes.
type Buffering int

const (
	// BufMaximal yields everything read so far in one chunk per step.
	BufMaximal Buffering = -1
	// BufUnbuffered yields each read as soon as it lands. For output
	// this behaves like BufMaximal; the distinction matters to callers
	// mirroring the classic bufsize encoding.
	BufUnbuffered Buffering = 0
	// BufLine yields one complete newline-terminated segment per step;
	// an unterminated tail is held back until end of stream.
	BufLine Buffering = 1
)

// Read sizes per buffering policy. Line mode reads small so lines flow
// promptly; everything else reads big.
const (
	lineReadSize = 1024
	bulkReadSize = 1 << 20
)

// readSize is how many bytes one readiness wake-up may pull.
func (b Buffering) readSize() int {
	switch {
	case b == BufLine:
		return lineReadSize
	case b > 1:
		return int(b)
	}
	return bulkReadSize
}

// Spec describes one child process: what to run, what to feed it, and
// how to move bytes across its three standard streams. A Spec is copied
// at spawn time; mutating it afterward has no effect on the handle.
type Spec struct {
	// Shell, when non-empty, is a command line run through "/bin/sh -c".
	Shell string

	// Argv, when non-empty, is the program and its arguments, executed
	// directly. Exactly one of Shell and Argv must be set.
	Argv []string

	// Dir is the child's working directory; empty means inherit.
	Dir string

	// Env is the child's environment; nil means inherit.
	Env []string

	// Input is the initial stdin payload, delivered as the child drains
	// it and followed by EOF.
	Input []byte

	// Buffering groups output into chunks. The zero value is
	// BufUnbuffered, per the integer encoding.
	Buffering Buffering

	// Timeout bounds each iterator's total run; zero means no deadline.
	Timeout time.Duration

	// Stdin, Stdout and Stderr pick the transport per role. Left at
	// stdio.ModeDefault they resolve to: a pipe for stdout, a pipe for
	// stdin when Input is non-empty (inherit otherwise), and inherit
	// for stderr.
	Stdin  stdio.Mode
	Stdout stdio.Mode
	Stderr stdio.Mode
}

func specErr(format string, a ...any) error {
	return fmt.Errorf("spec: "+format, a...)
}

// Validate returns an error if the Spec cannot be spawned.
func (s *Spec) Validate() error {
	if s.Shell == "" && len(s.Argv) == 0 {
		return specErr("must specify Shell or Argv")
	}
	if s.Shell != "" && len(s.Argv) > 0 {
		return specErr("Shell and Argv are mutually exclusive")
	}
	if s.Timeout < 0 {
		return specErr("negative timeout %s", s.Timeout)
	}
	cfg := s.streams()
	if err := cfg.Validate(); err != nil {
		return specErr("%s", err)
	}
	return nil
}

// streams resolves the default transports.
func (s *Spec) streams() stdio.Config {
	cfg := stdio.Config{Stdin: s.Stdin, Stdout: s.Stdout, Stderr: s.Stderr}
	if cfg.Stdout == stdio.ModeDefault {
		cfg.Stdout = stdio.ModePipe
	}
	if cfg.Stdin == stdio.ModeDefault {
		cfg.Stdin = stdio.ModeInherit
		if len(s.Input) > 0 {
			cfg.Stdin = stdio.ModePipe
		}
	}
	if cfg.Stderr == stdio.ModeDefault {
		cfg.Stderr = stdio.ModeInherit
	}
	return cfg
}

// commandLine is the loggable rendition of the command.
func (s *Spec) commandLine() string {
	if s.Shell != "" {
		return s.Shell
	}
	return strings.Join(s.Argv, " ")
}

// clone deep-copies the parts a running handle would otherwise share
// with the caller. Env keeps its nil-ness: nil inherits, empty is an
// empty environment.
func (s *Spec) clone() *Spec {
	c := *s
	c.Argv = append([]string(nil), s.Argv...)
	if s.Env != nil {
		c.Env = make([]string, len(s.Env))
		copy(c.Env, s.Env)
	}
	c.Input = append([]byte(nil), s.Input...)
	return &c
}
