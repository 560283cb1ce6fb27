package procmux_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/minzhuogoogle/gke-on-prem/procmux"
	"github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

// The canonical cat round trip: piped-in input comes back on stdout,
// and the unconfigured stderr comes back nil.
func TestCommunicateCat(t *testing.T) {
	h, err := Spawn(&Spec{
		Argv:    []string{"cat"},
		Input:   []byte("hello"),
		Timeout: timeOutLong,
	})
	require.NoError(t, err)
	out, errOut, err := h.Communicate(nil)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.Nil(t, errOut)
	code, exited := h.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
}

// Extra input given to Communicate lands after the spawn-time input.
func TestCommunicateAppendsExtraInput(t *testing.T) {
	h, err := Spawn(&Spec{
		Argv:    []string{"cat"},
		Input:   []byte("hello "),
		Timeout: timeOutLong,
	})
	require.NoError(t, err)
	out, _, err := h.Communicate([]byte("world"))
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

// A configured channel that produced nothing is empty, not nil.
func TestCommunicateEmptyButConfigured(t *testing.T) {
	h, err := Spawn(&Spec{
		Shell:   "exit 0",
		Stderr:  stdio.ModePipe,
		Timeout: timeOutLong,
	})
	require.NoError(t, err)
	out, errOut, err := h.Communicate(nil)
	assert.NoError(t, err)
	assert.NotNil(t, out)
	assert.NotNil(t, errOut)
	assert.Empty(t, out)
	assert.Empty(t, errOut)
}

// Communicate equals manual iterate-and-concatenate.
func TestCommunicateMatchesIteration(t *testing.T) {
	spec := &Spec{
		Shell:   `printf 'abc'; printf 'def\n'; echo oops 1>&2`,
		Stderr:  stdio.ModePipe,
		Timeout: timeOutLong,
	}
	h1, err := Spawn(spec)
	require.NoError(t, err)
	iterOut, iterErr, err := drain(h1.Iter())
	require.NoError(t, err)

	h2, err := Spawn(spec)
	require.NoError(t, err)
	commOut, commErr, err := h2.Communicate(nil)
	require.NoError(t, err)

	assert.Equal(t, string(iterOut), string(commOut))
	assert.Equal(t, string(iterErr), string(commErr))
	assert.Equal(t, "abcdef\n", string(commOut))
	assert.Equal(t, "oops\n", string(commErr))
}

// A timed-out Communicate kills, reaps and releases: afterward the
// child no longer exists and no descriptor stays open.
func TestCommunicateTimeoutKillsAndReaps(t *testing.T) {
	h, err := Spawn(&Spec{
		Argv:    []string{"sleep", "5"},
		Timeout: timeOutTiny,
	})
	require.NoError(t, err)

	began := time.Now()
	_, _, err = h.Communicate(nil)
	elapsed := time.Since(began)

	var te *TimeoutError
	if assert.ErrorAs(t, err, &te) {
		assert.Equal(t, timeOutTiny, te.Timeout)
	}
	// Roughly the configured deadline, nowhere near the sleep.
	assert.Less(t, elapsed, 4*timeOutTiny)

	code, exited := h.ExitCode()
	assert.True(t, exited, "the child must be reaped, not abandoned")
	assert.Equal(t, -1, code, "killed by signal")
	assert.ErrorIs(t, h.Signal(os.Interrupt), os.ErrProcessDone)
	assert.True(t, h.Stdout().Closed())
}

// A timeout raised by a bare iterator does not tear anything down;
// the partial output is kept and the caller decides what happens next.
func TestIteratorTimeoutKeepsPartialOutput(t *testing.T) {
	h, err := Spawn(&Spec{
		Shell:     `printf 'early\n'; sleep 5`,
		Buffering: BufLine,
		Timeout:   timeOutTiny,
	})
	require.NoError(t, err)

	out, _, err := drain(h.Iter())
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, "early\n", string(out))

	// The child is still ours to clean up.
	assert.NoError(t, h.Kill())
	code, err := h.Wait()
	assert.NoError(t, err)
	assert.Equal(t, -1, code)
	assert.NoError(t, h.Close())
}
