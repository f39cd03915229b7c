package mxtool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// LineSink receives one line of child output at a time, with the line
// terminator stripped. It is never called for end-of-stream.
type LineSink func(line string)

// Invocation describes a single external tool run: the full argument vector
// (program first), an optional working directory, optional per-stream line
// sinks, and the exit-code policy.
type Invocation struct {
	Args []string
	Dir  string
	Out  LineSink
	Err  LineSink
	// NonZeroIsFatal turns a nonzero child exit into an AbortError carrying
	// that exit code. When false the exit code is returned for inspection.
	NonZeroIsFatal bool
}

// Command builds an Invocation with the default fatal-on-nonzero policy.
func Command(args ...string) Invocation {
	return Invocation{Args: args, NonZeroIsFatal: true}
}

// Runner executes external tools one at a time. The context is only consulted
// between invocations; a launched child always runs to completion.
type Runner struct {
	Context context.Context
}

func NewRunner(ctx context.Context) *Runner {
	return &Runner{Context: ctx}
}

// Run launches the invocation and returns its exit code.
//
// Without sinks the child inherits our stdio directly. With a sink the
// corresponding stream is piped and drained line by line on its own
// goroutine; both drainers are joined before the child's exit status is
// collected, so every line reaches its sink before Run returns. Lines within
// one stream arrive in order; stdout and stderr sinks may interleave.
//
// A launch failure (missing binary, permission denied) aborts regardless of
// the exit-code policy.
func (r *Runner) Run(inv Invocation) (int, error) {
	if len(inv.Args) == 0 {
		return -1, abortf(1, "empty command line passed to runner")
	}

	if Verbose {
		fmt.Fprintln(os.Stderr, strings.Join(inv.Args, " "))
	}

	cmd := exec.Command(inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = os.Environ()
	cmd.Stdin = os.Stdin

	var wg sync.WaitGroup
	var outPipe, errPipe io.ReadCloser
	var pipeErr error

	if inv.Out == nil {
		cmd.Stdout = os.Stdout
	} else {
		outPipe, pipeErr = cmd.StdoutPipe()
		if pipeErr != nil {
			return -1, abortf(1, "failed to open stdout pipe: %v", pipeErr)
		}
	}
	if inv.Err == nil {
		cmd.Stderr = os.Stderr
	} else {
		errPipe, pipeErr = cmd.StderrPipe()
		if pipeErr != nil {
			return -1, abortf(1, "failed to open stderr pipe: %v", pipeErr)
		}
	}

	if err := cmd.Start(); err != nil {
		colError.Printf("could not start: %s\n", strings.Join(inv.Args, " "))
		return -1, abortf(1, "failed to start %s: %v", inv.Args[0], err)
	}

	drainErrs := make(chan error, 2)
	if outPipe != nil {
		wg.Add(1)
		go drainLines(outPipe, inv.Out, &wg, drainErrs)
	}
	if errPipe != nil {
		wg.Add(1)
		go drainLines(errPipe, inv.Err, &wg, drainErrs)
	}

	// The pipes close when the child exits, so the drainers finish at or
	// before process exit. They must be joined before Wait collects the
	// status, which invalidates the pipe readers.
	wg.Wait()
	close(drainErrs)
	var drainErr error
	for err := range drainErrs {
		if err != nil && drainErr == nil {
			drainErr = err
		}
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				// Signal-killed child; -1 is not a usable exit status.
				code = 1
			}
			if inv.NonZeroIsFatal {
				return code, abortf(code, "command failed with exit code %d: %s", code, strings.Join(inv.Args, " "))
			}
			return code, nil
		}
		return -1, abortf(1, "command %s did not complete: %v", inv.Args[0], err)
	}
	if drainErr != nil {
		return -1, abortf(1, "output of %s truncated: %v", inv.Args[0], drainErr)
	}
	return 0, nil
}

// drainLines feeds a captured stream to its sink one line at a time until
// end-of-input. The sink is only ever called with real lines. A scan failure
// (oversized line, read error) is reported so the caller never mistakes a
// truncated stream for a complete one.
func drainLines(pipe io.Reader, sink LineSink, wg *sync.WaitGroup, errs chan<- error) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Keep consuming so the child never blocks on a full pipe.
		io.Copy(io.Discard, pipe)
		errs <- err
		return
	}
	errs <- nil
}
