package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/minzhuogoogle/gke-on-prem/procmux"
	"github.com/minzhuogoogle/gke-on-prem/procmux/stdio"
)

type argSack struct {
	shellLine string
	input     string
	timeout   time.Duration
	buffering int
	stdinMode string
	outMode   string
	errMode   string
	label     bool
	verbose   bool
}

// main runs one command under the multiplexed handle and streams its
// output as it arrives, exiting with the child's code.
//
//	procmux [flags] -- program [args...]
//	procmux [flags] -c 'shell line'
func main() {
	var args argSack
	flag.StringVar(
		&args.shellLine, "c", "",
		"Run this line through /bin/sh -c instead of an argument vector.")
	flag.StringVar(
		&args.input, "in", "",
		"Feed this to the child's stdin, then close it.")
	flag.DurationVar(
		&args.timeout, "t", 0,
		"Fail if the child makes no progress for this long (0 = no limit).")
	flag.IntVar(
		&args.buffering, "buf", int(procmux.BufLine),
		"Chunking: <0 maximal, 0 unbuffered, 1 line, >1 block bytes.")
	flag.StringVar(
		&args.stdinMode, "stdin", "",
		"Stdin transport: default, inherit, pipe or pty.")
	flag.StringVar(
		&args.outMode, "stdout", "",
		"Stdout transport: default, inherit, pipe or pty.")
	flag.StringVar(
		&args.errMode, "stderr", "pipe",
		"Stderr transport: default, inherit, pipe, pty or merge.")
	flag.BoolVar(
		&args.label, "label", false,
		"Prefix output lines with 'out: ' / 'err: ' on stdout.")
	flag.BoolVar(
		&args.verbose, "v", false,
		"Log the multiplex loop to stderr.")
	flag.Parse()

	if args.verbose {
		procmux.VerboseLoggingEnable()
	}
	spec, err := buildSpec(&args, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintDefaults()
		os.Exit(2)
	}
	os.Exit(run(spec, args.label))
}

func buildSpec(args *argSack, argv []string) (*procmux.Spec, error) {
	if args.shellLine == "" && len(argv) == 0 {
		return nil, fmt.Errorf("nothing to run; give -c 'line' or -- program args")
	}
	spec := &procmux.Spec{
		Shell:     args.shellLine,
		Argv:      argv,
		Input:     []byte(args.input),
		Buffering: procmux.Buffering(args.buffering),
		Timeout:   args.timeout,
	}
	var err error
	if spec.Stdin, err = parseMode(args.stdinMode); err != nil {
		return nil, err
	}
	if spec.Stdout, err = parseMode(args.outMode); err != nil {
		return nil, err
	}
	if spec.Stderr, err = parseMode(args.errMode); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseMode(s string) (stdio.Mode, error) {
	switch s {
	case "", "default":
		return stdio.ModeDefault, nil
	case "inherit":
		return stdio.ModeInherit, nil
	case "pipe":
		return stdio.ModePipe, nil
	case "pty":
		return stdio.ModePTY, nil
	case "merge":
		return stdio.ModeMergeStdout, nil
	}
	return 0, fmt.Errorf("unknown stream mode %q", s)
}

func run(spec *procmux.Spec, label bool) int {
	h, err := procmux.Spawn(spec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Pass interrupts through so the child decides how to die.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			_ = h.Signal(sig)
		}
	}()

	it := h.Iter()
	for it.Next() {
		emit(os.Stdout, "out", it.Stdout(), label)
		emit(os.Stderr, "err", it.Stderr(), label)
	}
	if err := it.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = h.Kill()
		_, _ = h.Wait()
		_ = h.Close()
		return 1
	}
	code, _ := h.ExitCode()
	if code < 0 {
		// Signal death; there is no shell-style code to forward.
		return 1
	}
	return code
}

// emit forwards one chunk, optionally labelling each line so the two
// streams stay distinguishable when both land on stdout.
func emit(w *os.File, prefix string, chunk []byte, label bool) {
	if len(chunk) == 0 {
		return
	}
	if !label {
		_, _ = w.Write(chunk)
		return
	}
	lines := strings.Split(strings.TrimSuffix(string(chunk), "\n"), "\n")
	for _, line := range lines {
		fmt.Printf("%s: %s\n", prefix, line)
	}
}
