// Package procmux spawns child processes and multiplexes their
// standard streams from a single goroutine: iterate over output as it
// arrives, feed input as the child drains it, bound everything with a
// deadline, and pick pipe or pseudo-terminal transport per stream.
//
// The package supports:
//   - Incremental consumption of output while feeding stdin, without
//     per-stream goroutines (one poll(2) loop drives everything)
//   - Buffering policies over the classic integer encoding: maximal,
//     unbuffered, line, fixed block
//   - Pseudo-terminal transport for any stream, raw on the slave side,
//     for children that buffer or prompt differently on a terminal
//   - Deadlines that surface as a typed TimeoutError, with a
//     kill-then-reap guarantee on the run-to-completion path
//   - Exit-status queries that never block and never race the reap,
//     from any goroutine
//   - A retrying Runner for run-to-completion callers
//
// Run a command and collect its output:
//
//	h, err := procmux.Spawn(&procmux.Spec{
//		Shell:   "grep interesting /var/log/things",
//		Timeout: 30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	out, _, err := h.Communicate(nil)
//
// Stream a long-running command line by line:
//
//	h, err := procmux.Spawn(&procmux.Spec{
//		Argv:      []string{"tail", "-f", "/var/log/things"},
//		Buffering: procmux.BufLine,
//	})
//	...
//	it := h.Iter()
//	for it.Next() {
//		handleLine(it.Stdout())
//	}
//
// Feed a child through a terminal so it behaves interactively:
//
//	h, err := procmux.Spawn(&procmux.Spec{
//		Argv:   []string{"some-prompting-tool"},
//		Input:  []byte("y\n"),
//		Stdin:  stdio.ModePTY,
//		Stdout: stdio.ModePTY,
//	})
//
// Handles are independent: any number may be driven concurrently from
// separate goroutines without coordination. Within one handle, drive at
// most one iterator at a time; Poll, Wait and signals are safe from
// anywhere.
package procmux
