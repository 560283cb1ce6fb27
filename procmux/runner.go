package procmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

// Result is the outcome of a Runner invocation that ran a child to
// completion.
type Result struct {
	// Code is the exit code of the final attempt.
	Code int
	// Output is the combined output of the final attempt.
	Output []byte
	// Attempts is how many tries the outcome took.
	Attempts int
}

// Runner runs commands to completion, retrying failed attempts on a
// fixed interval. The zero value runs once, captures combined output,
// and reports a non-zero exit in the Result rather than as an error.
type Runner struct {
	// Attempts is the total number of tries. Values below 1 mean 1.
	Attempts int

	// Backoff is the pause between tries. Values <= 0 mean 2s.
	Backoff time.Duration

	// Strict turns a non-zero exit of the final attempt into a
	// *NonZeroExitError instead of a Result.
	Strict bool

	// OutputPath, when non-empty, names a file each attempt's combined
	// output is appended to, besides being returned in the Result.
	OutputPath string
}

const defaultRetryInterval = 2 * time.Second

func (r *Runner) setDefaults() {
	if r.Attempts < 1 {
		r.Attempts = 1
	}
	if r.Backoff <= 0 {
		r.Backoff = defaultRetryInterval
	}
}

// Run spawns spec and drives it to completion, retrying timeouts, poll
// failures and non-zero exits up to Attempts tries. Spawn failures are
// permanent; a binary that does not exist will not appear on retry.
// The context bounds only the pauses between attempts: a running
// attempt is bounded by the spec's own Timeout, whose expiry kills and
// reaps the child before the next try.
//
// When the spec leaves both output modes at their defaults, stderr is
// merged into stdout so Output interleaves the two streams the way the
// child produced them; explicitly configured streams are captured
// per-channel and concatenated.
func (r *Runner) Run(ctx context.Context, spec *Spec) (*Result, error) {
	r.setDefaults()
	var last *Result
	tries := 0
	op := func() (*Result, error) {
		tries++
		logger.Debug().
			Str("cmd", abbrev(spec.commandLine())).
			Int("try", tries).
			Msg("runner attempt")
		res, err := r.attempt(spec)
		if res != nil {
			res.Attempts = tries
			last = res
		}
		return res, err
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.Backoff)),
		backoff.WithMaxTries(uint(r.Attempts)))
	if err != nil {
		var nz *NonZeroExitError
		if errors.As(err, &nz) && !r.Strict && last != nil {
			return last, nil
		}
		return nil, err
	}
	return res, nil
}

// attempt is one spawn-to-reap cycle.
func (r *Runner) attempt(spec *Spec) (*Result, error) {
	spec = spec.clone()
	if spec.Stdout == stdio.ModeDefault && spec.Stderr == stdio.ModeDefault {
		spec.Stderr = stdio.ModeMergeStdout
	}
	h, err := Spawn(spec)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	out, errOut, err := h.Communicate(nil)
	if err != nil {
		return nil, err
	}
	output := append(out, errOut...)
	if r.OutputPath != "" {
		if werr := appendFile(r.OutputPath, output); werr != nil {
			return nil, backoff.Permanent(werr)
		}
	}
	code, _ := h.ExitCode()
	res := &Result{Code: code, Output: output}
	if code != 0 {
		return res, &NonZeroExitError{Cmd: h.CommandLine(), Code: code}
	}
	return res, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening output file; %w", err)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending output to %q; %w", path, err)
	}
	return f.Close()
}
