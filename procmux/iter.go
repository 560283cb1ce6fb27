package procmux

import (
	"bytes"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

// OutputIter walks a child's output as it arrives, one step per chunk,
// while feeding pending input whenever the child drains its stdin. It
// is a single-goroutine readiness loop: no per-stream goroutines, one
// poll(2) round per wake-up.
//
// Use it scanner style:
//
//	it := h.Iter()
//	for it.Next() {
//		if chunk := it.Stdout(); chunk != nil {
//			// ...
//		}
//	}
//	if err := it.Err(); err != nil {
//		// *TimeoutError, *PollError, or a raw I/O failure
//	}
//
// When every stream has ended, the child is reaped and Next returns
// false. Chunks stay valid across steps. Only one iterator per handle
// may be driven at a time; a fresh Iter supersedes older ones, and
// bytes they never yielded carry over.
type OutputIter struct {
	h        *Handle
	deadline time.Time // zero when no timeout is configured
	scratch  []byte
	out      []byte
	errOut   []byte
	err      error
	done     bool
}

// Iter returns a new iterator over the handle's output streams. With a
// timeout configured, the iterator must finish within it: the deadline
// is fixed here and every poll gets only the remaining time.
func (h *Handle) Iter() *OutputIter {
	it := &OutputIter{
		h:       h,
		scratch: make([]byte, h.buffering.readSize()),
	}
	if h.timeout > 0 {
		it.deadline = time.Now().Add(h.timeout)
	}
	return it
}

// Stdout returns the stdout chunk produced by the last Next, nil when
// that step carried no stdout bytes.
func (it *OutputIter) Stdout() []byte { return it.out }

// Stderr is Stdout's counterpart for the stderr channel.
func (it *OutputIter) Stderr() []byte { return it.errOut }

// Err returns the error that stopped iteration, nil after a clean end.
func (it *OutputIter) Err() error { return it.err }

// Next advances to the next chunk. It returns false when iteration is
// over; Err distinguishes a clean end from a failure.
func (it *OutputIter) Next() bool {
	if it.done {
		return false
	}
	it.out, it.errOut = nil, nil
	h := it.h

	// Stdin with nothing left to deliver is closed up front: EOF is
	// the only message remaining for the child.
	if ep := h.set.In; ep != nil && !ep.Closed() && len(h.input) == 0 {
		if err := ep.Close(); err != nil {
			return it.fail(fmt.Errorf("closing stdin of %q; %w", h.line, err))
		}
		logger.Debug().Msg("stdin closed, nothing to deliver")
	}

	for {
		// Yield what the buffers already hold before touching the OS.
		if it.cut() {
			return true
		}
		if it.finished() {
			it.finish()
			return false
		}
		if err := it.step(); err != nil {
			return it.fail(err)
		}
	}
}

func (it *OutputIter) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

// cut moves the next policy-sized chunks out of the accumulation
// buffers, one per channel. Channels whose stream has ended flush
// unconditionally.
func (it *OutputIter) cut() bool {
	h := it.h
	it.out = cutChunk(&h.outBuf, h.buffering, streamEnded(h.set.Out))
	it.errOut = cutChunk(&h.errBuf, h.buffering, streamEnded(h.set.Err))
	return it.out != nil || it.errOut != nil
}

// cutChunk removes and returns the next chunk of buf under policy b.
// Nil means nothing is ready yet. atEOF flushes remainders: the
// unterminated line tail, or a short final block.
func cutChunk(buf *[]byte, b Buffering, atEOF bool) []byte {
	n := len(*buf)
	if n == 0 {
		return nil
	}
	switch {
	case b == BufLine:
		if i := bytes.IndexByte(*buf, '\n'); i >= 0 {
			n = i + 1
		} else if !atEOF {
			return nil
		}
	case b > 1:
		if n >= int(b) {
			n = int(b)
		} else if !atEOF {
			return nil
		}
	}
	chunk := (*buf)[:n]
	*buf = (*buf)[n:]
	return chunk
}

func streamEnded(ep *stdio.Endpoint) bool {
	return ep == nil || ep.Closed()
}

// finished reports whether everything this iteration drives is done:
// output streams at end of stream, no input left to deliver.
func (it *OutputIter) finished() bool {
	h := it.h
	if ep := h.set.In; ep != nil && !ep.Closed() {
		return false
	}
	if !streamEnded(h.set.Out) || !streamEnded(h.set.Err) {
		return false
	}
	return true
}

// finish is the end-of-loop blocking reap. The exit status lands in the
// handle's record for Poll, Wait and ExitCode; a reap failure is logged
// but is not an iteration error.
func (it *OutputIter) finish() {
	it.done = true
	if _, err := it.h.Wait(); err != nil {
		logger.Debug().Err(err).Msg("reap at end of iteration")
	}
}

// step is one readiness round: poll the open endpoints, relieve the
// child of pending input, pull ready output into the accumulation
// buffers, close whatever reached end of stream. The status guard is
// held for the whole round, so a concurrent Poll answers from recorded
// state instead of racing the reads.
func (it *OutputIter) step() error {
	h := it.h
	fds, eps := it.pollSet()

	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	var n int
	var err error
	for {
		timeoutMs := -1
		if !it.deadline.IsZero() {
			remaining := time.Until(it.deadline)
			if remaining <= 0 {
				return &TimeoutError{Cmd: h.line, Timeout: h.timeout}
			}
			timeoutMs = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		n, err = unix.Poll(fds, timeoutMs)
		if err != unix.EINTR {
			break
		}
		// Interrupted; re-arm with the remaining time.
	}
	if err != nil {
		return fmt.Errorf("polling %q; %w", h.line, err)
	}
	if n == 0 {
		return &TimeoutError{Cmd: h.line, Timeout: h.timeout}
	}

	for i := range fds {
		re := fds[i].Revents
		if re == 0 {
			continue
		}
		ep := eps[i]
		logger.Debug().
			Str("stream", ep.Name()).
			Int("events", int(re)).
			Msg("poll wake-up")
		if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return &PollError{Cmd: h.line, Stream: ep.Name(), Events: re}
		}
		if ep == h.set.In {
			if re&unix.POLLOUT != 0 {
				if err := h.feedStdin(); err != nil {
					return err
				}
			} else if re&unix.POLLHUP != 0 {
				// The child's side of a PTY pair is gone; no one is
				// left to read stdin.
				logger.Debug().Msg("stdin hangup")
				if err := h.set.In.Close(); err != nil {
					return fmt.Errorf("closing stdin of %q; %w", h.line, err)
				}
			}
			continue
		}
		if re&(unix.POLLIN|unix.POLLHUP) != 0 {
			if err := h.readChunk(ep, it.scratch); err != nil {
				return err
			}
		}
	}
	return nil
}

// pollSet assembles the registrations for one round: open output
// endpoints for readability, stdin for writability only while input
// bytes remain.
func (it *OutputIter) pollSet() ([]unix.PollFd, []*stdio.Endpoint) {
	h := it.h
	var fds []unix.PollFd
	var eps []*stdio.Endpoint
	if ep := h.set.In; ep != nil && !ep.Closed() && len(h.input) > 0 {
		fds = append(fds, unix.PollFd{Fd: int32(ep.Fd()), Events: unix.POLLOUT})
		eps = append(eps, ep)
	}
	for _, ep := range []*stdio.Endpoint{h.set.Out, h.set.Err} {
		if ep != nil && !ep.Closed() {
			fds = append(fds, unix.PollFd{Fd: int32(ep.Fd()), Events: unix.POLLIN})
			eps = append(eps, ep)
		}
	}
	return fds, eps
}

// feedStdin writes the next input chunk: through the first newline
// under line buffering, everything pending otherwise. Short writes keep
// the remainder pending. Exhausted input closes stdin so the child sees
// EOF.
func (h *Handle) feedStdin() error {
	chunk := h.input
	if h.buffering == BufLine {
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			chunk = chunk[:i+1]
		}
	}
	n, err := h.set.In.Write(chunk)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("writing stdin of %q; %w", h.line, err)
	}
	h.input = h.input[n:]
	logger.Debug().
		Int("n", n).
		Int("pending", len(h.input)).
		Msg("fed stdin")
	if len(h.input) == 0 {
		logger.Debug().Msg("input exhausted, closing stdin")
		if err := h.set.In.Close(); err != nil {
			return fmt.Errorf("closing stdin of %q; %w", h.line, err)
		}
	}
	return nil
}

// readChunk pulls one bounded read from ep into its channel's
// accumulation buffer. Zero bytes, or EIO from a PTY master whose slave
// side is gone, is end of stream: the endpoint is closed and thereby
// deregistered. EAGAIN and EINTR just end the round.
func (h *Handle) readChunk(ep *stdio.Endpoint, scratch []byte) error {
	n, err := ep.Read(scratch)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		if ep.IsPTY() && err == unix.EIO {
			logger.Debug().Str("stream", ep.Name()).Msg("pty hangup, eof")
			return ep.Close()
		}
		return fmt.Errorf("reading %s of %q; %w", ep.Name(), h.line, err)
	}
	if n == 0 {
		logger.Debug().Str("stream", ep.Name()).Msg("eof")
		return ep.Close()
	}
	buf := &h.outBuf
	if ep == h.set.Err {
		buf = &h.errBuf
	}
	*buf = append(*buf, scratch[:n]...)
	logger.Debug().
		Str("stream", ep.Name()).
		Int("n", n).
		Str("data", abbrev(string(scratch[:n]))).
		Msg("read")
	return nil
}
