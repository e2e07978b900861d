package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout marks a command killed because its timeout expired.
var ErrTimeout = errors.New("command timed out")

const defaultWaitDelay = 5 * time.Second

// Command is a structured invocation. Args are passed to the process as-is;
// nothing is interpreted by a shell.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Secrets are masked when the command is rendered for logs.
	Secrets []string
}

// String renders the command line with secrets masked.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	parts = append(parts, c.Args...)
	line := strings.Join(parts, " ")
	for _, secret := range c.Secrets {
		if secret == "" {
			continue
		}
		line = strings.ReplaceAll(line, secret, "****")
	}
	return line
}

// Result reports how a command finished. Failures are described by Err and
// never panic.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Err      error
}

// OK reports whether the command exited zero without timing out.
func (r Result) OK() bool {
	return r.Err == nil
}

// Exited reports whether the process ran to completion and chose its own
// exit status, zero or not. Timeouts, signal kills and start failures report
// false.
func (r Result) Exited() bool {
	return !r.TimedOut && r.ExitCode >= 0
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) Result

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) Result {
	return f(ctx, cmd)
}

// ExecRunner runs commands as child processes. The timeout is enforced by
// killing the process.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes are drained after a kill.
	WaitDelay time.Duration
}

// Run executes cmd and waits for it to finish.
func (r ExecRunner) Run(ctx context.Context, cmd Command) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Result{ExitCode: -1, Err: errors.New("command name is required")}
	}

	runCtx := ctx
	cancel := func() {}
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
	}
	defer cancel()

	proc := exec.CommandContext(runCtx, name, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(proc.Environ(), cmd.Env...)
	}
	proc.WaitDelay = r.WaitDelay
	if proc.WaitDelay <= 0 {
		proc.WaitDelay = defaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	started := time.Now()
	err := proc.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if err == nil {
		return result
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.Err = fmt.Errorf("%s: %w after %s", name, ErrTimeout, cmd.Timeout)
	case ctx.Err() != nil:
		result.Err = fmt.Errorf("%s: %w", name, ctx.Err())
	case exitErr != nil:
		result.Err = fmt.Errorf("%s exited with status %d%s", name, result.ExitCode, stderrSuffix(result.Stderr))
	default:
		result.Err = fmt.Errorf("%s: %w", name, err)
	}
	return result
}

// Start runs cmd on its own goroutine and delivers the result on the returned
// channel, which is closed afterwards.
func Start(ctx context.Context, runner Runner, cmd Command) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		done <- runner.Run(ctx, cmd)
	}()
	return done
}

func stderrSuffix(stderr string) string {
	line := strings.TrimSpace(stderr)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return ""
	}
	const limit = 200
	if len(line) > limit {
		line = line[:limit] + "..."
	}
	return ": " + line
}
