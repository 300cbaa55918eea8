package handler

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"mimewatch/internal/template"
)

// ExitNotRunnable is reported when a handler process could not be started,
// matching what a shell returns for a missing command.
const ExitNotRunnable = 127

// waitDelay bounds how long output copying may outlive a killed handler.
const waitDelay = 2 * time.Second

// Runner invokes one substituted handler command and reports its exit code.
type Runner interface {
	Run(ctx context.Context, cmd template.Command, out io.Writer) (int, error)
}

// ExecRunner runs handlers as child processes. Commands that need a shell go
// through Shell -c, the rest are spawned directly from their argument vector.
type ExecRunner struct {
	Shell   string
	Timeout time.Duration
	Dir     string
}

// Run starts the process and waits for it. Cancelling ctx does not stop a
// running handler; only Timeout does.
func (r *ExecRunner) Run(ctx context.Context, cmd template.Command, out io.Writer) (int, error) {
	runCtx := context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.Timeout)
		defer cancel()
	}
	var c *exec.Cmd
	if len(cmd.Argv) > 0 {
		c = exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	} else {
		shell := r.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		c = exec.CommandContext(runCtx, shell, "-c", cmd.Line)
	}
	if r.Dir != "" {
		c.Dir = r.Dir
	}
	c.Env = os.Environ()
	c.Stdout = out
	c.Stderr = out
	c.WaitDelay = waitDelay
	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when killed by a signal, which is never the delay sentinel.
		return exitErr.ExitCode(), nil
	}
	return ExitNotRunnable, err
}

// Sleeper waits out the delay between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper waits on a timer and gives up early when ctx is done.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
