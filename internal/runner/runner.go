// Package runner launches a child process with the parent's environment,
// captures both output streams in full and maps its termination status.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a single child process per call.
type Runner struct {
	// Timeout kills the child after the given duration. Zero waits forever.
	Timeout time.Duration
	// WaitDelay bounds how long Run waits for inherited pipes to close after
	// the child has been killed. Only used when Timeout is set.
	WaitDelay time.Duration
}

// Run starts argv[0] with argv[1:] as arguments and blocks until it exits.
// A non-nil error means the process could not be run or observed at all;
// a process that ran and failed is reported through Result.ExitCode.
func (r *Runner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	// nil Stdin connects the child to the null device.
	cmd.Stdin = nil
	if ctx.Done() != nil {
		cmd.WaitDelay = r.waitDelay()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	var exitCode int
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("waiting for %s: %w", argv[0], err)
		}
		exitCode = ExitStatus(exitErr.ProcessState)
	} else {
		exitCode = ExitStatus(cmd.ProcessState)
	}

	out, err := JoinLines(&stdout)
	if err != nil {
		return nil, fmt.Errorf("reading stdout of %s: %w", argv[0], err)
	}
	errText, err := JoinLines(&stderr)
	if err != nil {
		return nil, fmt.Errorf("reading stderr of %s: %w", argv[0], err)
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   out,
		Stderr:   errText,
	}, nil
}

func (r *Runner) waitDelay() time.Duration {
	if r.WaitDelay > 0 {
		return r.WaitDelay
	}
	return time.Second
}

// ExitStatus returns the exit code of a process that terminated normally and
// SentinelExitCode for anything else (signalled, still running, unknown).
func ExitStatus(ps *os.ProcessState) int {
	if ps == nil || !ps.Exited() {
		return SentinelExitCode
	}
	return ps.ExitCode()
}

// JoinLines drains r line by line and rebuilds the text with exactly one
// "\n" after every line, including an unterminated final line.
func JoinLines(r io.Reader) (string, error) {
	var b strings.Builder
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			b.WriteString(strings.TrimSuffix(line, "\n"))
			b.WriteByte('\n')
		}
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
	}
}
