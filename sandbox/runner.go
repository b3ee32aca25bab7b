package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fluxflow/coderunner/execution"
)

// LimitedProcessRunner implements ProcessRunner by spawning every process
// through a Limiter, under a wall-clock timeout, with capped output capture.
type LimitedProcessRunner struct {
	limiter        *Limiter
	maxOutputChars int
}

// NewLimitedProcessRunner creates a LimitedProcessRunner
func NewLimitedProcessRunner(limiter *Limiter, maxOutputChars int) *LimitedProcessRunner {
	return &LimitedProcessRunner{
		limiter:        limiter,
		maxOutputChars: maxOutputChars,
	}
}

// Run executes spec and waits for it to finish or time out. A timeout is
// reported through ProcessOutput.TimedOut with exit code -1. Every process
// the program started is dead before Run returns.
func (r *LimitedProcessRunner) Run(ctx context.Context, spec ProcessSpec) (ProcessOutput, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd, err := r.limiter.Command(ctxWithTimeout, spec.Policy, spec.Args)
	if err != nil {
		return ProcessOutput{}, err
	}
	cmd.Dir = spec.Dir
	cmd.Env = childEnv(spec.Dir)
	cmd.Stdin = strings.NewReader(spec.Stdin)

	stdoutBuf := newCappedBuffer(r.maxOutputChars)
	stderrBuf := newCappedBuffer(r.maxOutputChars)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	statusReader, statusWriter, err := os.Pipe()
	if err != nil {
		return ProcessOutput{}, fmt.Errorf("failed to create status pipe: %w", err)
	}
	defer func() { _ = statusReader.Close() }()
	cmd.ExtraFiles = []*os.File{statusWriter}

	start := time.Now()
	runErr := cmd.Start()
	_ = statusWriter.Close()
	if runErr == nil {
		runErr = cmd.Wait()
	}
	duration := time.Since(start)

	// Backstop for a helper that was killed before its sweep finished
	_ = killProcessGroup(cmd)

	status, _ := io.ReadAll(io.LimitReader(statusReader, 64))

	output := ProcessOutput{
		Stdout:   execution.TruncateChars(stdoutBuf.String(), r.maxOutputChars),
		Stderr:   execution.TruncateChars(stderrBuf.String(), r.maxOutputChars),
		Duration: duration,
	}

	// If the context timed out, handle it explicitly
	if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		output.TimedOut = true
		output.ExitCode = -1
		return output, nil
	}
	if ctx.Err() != nil {
		return ProcessOutput{}, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}

	if code, ok := parseStatus(string(status)); ok {
		output.ExitCode = code
		return output, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return ProcessOutput{}, fmt.Errorf("failed to run %s: %w", spec.Args[0], runErr)
		}
		output.ExitCode = exitStatus(exitErr)
	}

	return output, nil
}

// exitStatus returns the exit code, or the negated signal number when the
// process was killed by a signal
func exitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// childEnv is the environment handed to untrusted programs. Server
// credentials never reach the child.
func childEnv(dir string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	}
}
