package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// HelperCommand is the first argument that switches the binary into the
// rlimit helper. The helper stays alive as a child subreaper supervising the
// target: it starts a second copy of itself (targetCommand) that applies the
// Policy and replaces its image with the target program, so the limits are in
// force before the first untrusted instruction runs. When the target exits or
// the helper receives SIGTERM, every remaining descendant is killed, including
// those that left the process group or session.
const HelperCommand = "__rlimit-exec"

// targetCommand selects the limited half of the helper
const targetCommand = "__rlimit-exec-target"

// statusFD is where the helper finds the status pipe (ExtraFiles[0])
const statusFD = 3

// Exit codes reported by the helper when it cannot hand over to the target
const (
	HelperExitSetup    = 126
	HelperExitNotFound = 127
)

// waitDelay bounds how long Wait blocks after cancellation while the helper
// sweeps descendants. The helper is killed outright once it expires.
const waitDelay = 2 * time.Second

// Policy bounds the resources of one spawned process. Zero fields are left
// unlimited.
type Policy struct {
	AddressSpaceBytes uint64
	CPUSeconds        uint64
	// Processes is RLIMIT_NPROC. The kernel counts it per user, not per tree.
	Processes uint64
}

// PolicyFromMB builds a Policy from a memory ceiling in megabytes and a CPU
// ceiling in seconds
func PolicyFromMB(memoryMB, cpuSeconds int) Policy {
	return Policy{
		AddressSpaceBytes: uint64(memoryMB) * 1024 * 1024,
		CPUSeconds:        uint64(cpuSeconds),
	}
}

// WithProcesses returns a copy of p with a process-count ceiling
func (p Policy) WithProcesses(n int) Policy {
	p.Processes = uint64(n)
	return p
}

// Limiter spawns processes under a Policy by routing them through the
// rlimit helper.
type Limiter struct {
	helper string
}

// NewLimiter creates a Limiter whose helper is the running executable
func NewLimiter() (*Limiter, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rlimit helper: %w", err)
	}
	return NewLimiterWithHelper(exe), nil
}

// NewLimiterWithHelper creates a Limiter using an explicit helper executable
func NewLimiterWithHelper(helper string) *Limiter {
	return &Limiter{helper: helper}
}

// Command builds the command that runs args under policy. The helper is
// placed in its own process group; cancelling ctx asks it to kill the target
// and all of its descendants.
func (l *Limiter) Command(ctx context.Context, policy Policy, args []string) (*exec.Cmd, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("no command provided")
	}
	if err := platformSupported(); err != nil {
		return nil, err
	}

	helperArgs := make([]string, 0, len(args)+4)
	helperArgs = append(helperArgs, HelperCommand)
	helperArgs = append(helperArgs, policyArgs(policy)...)
	helperArgs = append(helperArgs, args...)

	cmd := exec.CommandContext(ctx, l.helper, helperArgs...) //nolint:gosec // helper is the running binary
	isolateProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	return cmd, nil
}

// Verify checks that every policy can be applied on this host. It is run at
// startup; a failure means executions would otherwise run unconfined.
func (l *Limiter) Verify(policies ...Policy) error {
	if err := platformSupported(); err != nil {
		return err
	}

	info, err := os.Stat(l.helper)
	if err != nil {
		return fmt.Errorf("rlimit helper %s: %w", l.helper, err)
	}
	if info.IsDir() {
		return fmt.Errorf("rlimit helper %s is a directory", l.helper)
	}

	for _, p := range policies {
		if err := checkHardLimits(p); err != nil {
			return err
		}
	}
	return nil
}

// MaybeRunHelper runs the rlimit helper when args select it. It reports
// whether the helper ran, together with the exit code to use.
func MaybeRunHelper(args []string) (int, bool) {
	if len(args) < 2 {
		return 0, false
	}
	switch args[1] {
	case HelperCommand:
		return runSupervisor(args[2:]), true
	case targetCommand:
		return runTarget(args[2:]), true
	default:
		return 0, false
	}
}

func policyArgs(p Policy) []string {
	return []string{
		strconv.FormatUint(p.AddressSpaceBytes, 10),
		strconv.FormatUint(p.CPUSeconds, 10),
		strconv.FormatUint(p.Processes, 10),
	}
}

func parseHelperArgs(args []string) (Policy, []string, error) {
	if len(args) < 4 {
		return Policy{}, nil, fmt.Errorf("usage: %s <address-space-bytes> <cpu-seconds> <processes> <program> [args...]", HelperCommand)
	}

	as, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return Policy{}, nil, fmt.Errorf("invalid address space limit %q: %w", args[0], err)
	}
	cpu, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return Policy{}, nil, fmt.Errorf("invalid cpu limit %q: %w", args[1], err)
	}
	procs, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return Policy{}, nil, fmt.Errorf("invalid process limit %q: %w", args[2], err)
	}

	return Policy{AddressSpaceBytes: as, CPUSeconds: cpu, Processes: procs}, args[3:], nil
}

// formatStatus encodes how the target ended for the status pipe
func formatStatus(code, signum int) string {
	if signum != 0 {
		return fmt.Sprintf("signal %d\n", signum)
	}
	return fmt.Sprintf("exit %d\n", code)
}

// parseStatus decodes a status pipe message into an exit code, negated for
// a signal. It reports false when the helper wrote nothing usable.
func parseStatus(msg string) (int, bool) {
	var kind string
	var n int
	if _, err := fmt.Sscanf(msg, "%s %d", &kind, &n); err != nil {
		return 0, false
	}
	switch kind {
	case "exit":
		return n, true
	case "signal":
		return -n, true
	default:
		return 0, false
	}
}
