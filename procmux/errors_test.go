package procmux_test

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/minzhuogoogle/gke-on-prem/procmux"
)

func TestErrorRendering(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"start": {
			err:  &StartError{Cmd: "frobnicate", Err: exec.ErrNotFound},
			want: `starting "frobnicate"; executable file not found in $PATH`,
		},
		"timeout": {
			err:  &TimeoutError{Cmd: "sleep 100", Timeout: 30 * time.Second},
			want: `command "sleep 100" timed out after 30s`,
		},
		"poll": {
			err:  &PollError{Cmd: "cat", Stream: "stdin", Events: 0x18},
			want: `command "cat"; poll reported events 0x18 on stdin`,
		},
		"nonZeroExit": {
			err:  &NonZeroExitError{Cmd: "false", Code: 1},
			want: `command "false" exited with code 1`,
		},
	}
	for n, tc := range tests {
		t.Run(n, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestStartErrorUnwraps(t *testing.T) {
	cause := exec.ErrNotFound
	err := fmt.Errorf("spawning; %w", &StartError{Cmd: "x", Err: cause})
	assert.ErrorIs(t, err, cause)
	var se *StartError
	if assert.ErrorAs(t, err, &se) {
		assert.Equal(t, "x", se.Cmd)
	}
	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}
