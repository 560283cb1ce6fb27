package procmux

import (
	"errors"
)

// Communicate appends extra to the pending input, switches the handle
// to maximal buffering for the rest of its life, and drains the child
// to completion, concatenating chunks per channel.
//
// The results are nil for roles with no pipe or PTY, and empty but
// non-nil for configured channels that produced nothing. On
// *TimeoutError the child is killed, reaped, and every endpoint
// released before the error returns; partial output is discarded. Any
// other iteration error leaves the handle as it stands for the caller
// to inspect, iterate again, or Close.
func (h *Handle) Communicate(extra []byte) (stdout, stderr []byte, err error) {
	h.input = append(h.input, extra...)
	h.buffering = BufMaximal
	if h.set.Out != nil {
		stdout = []byte{}
	}
	if h.set.Err != nil {
		stderr = []byte{}
	}
	it := h.Iter()
	for it.Next() {
		stdout = append(stdout, it.Stdout()...)
		stderr = append(stderr, it.Stderr()...)
	}
	if err = it.Err(); err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			logger.Debug().Str("cmd", abbrev(h.line)).Msg("timed out, killing")
			if kerr := h.Kill(); kerr != nil {
				// The child may have exited on its own in the window.
				logger.Debug().Err(kerr).Msg("kill after timeout")
			}
			if _, werr := h.Wait(); werr != nil {
				logger.Debug().Err(werr).Msg("reap after timeout")
			}
			if cerr := h.Close(); cerr != nil {
				logger.Debug().Err(cerr).Msg("close after timeout")
			}
		}
		return nil, nil, err
	}
	return stdout, stderr, nil
}
