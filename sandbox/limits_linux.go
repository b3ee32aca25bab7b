//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func platformSupported() error {
	return nil
}

func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	// The helper sweeps the whole tree on SIGTERM; WaitDelay kills it if the
	// sweep stalls
	cmd.Cancel = func() error {
		err := cmd.Process.Signal(syscall.SIGTERM)
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
}

// killProcessGroup kills every process still in the helper's group
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

type rlimit struct {
	name     string
	resource int
	value    uint64
}

func (p Policy) rlimits() []rlimit {
	return []rlimit{
		{"RLIMIT_AS", unix.RLIMIT_AS, p.AddressSpaceBytes},
		{"RLIMIT_CPU", unix.RLIMIT_CPU, p.CPUSeconds},
		{"RLIMIT_NPROC", unix.RLIMIT_NPROC, p.Processes},
	}
}

func checkHardLimits(p Policy) error {
	for _, l := range p.rlimits() {
		if l.value == 0 {
			continue
		}
		var current unix.Rlimit
		if err := unix.Getrlimit(l.resource, &current); err != nil {
			return fmt.Errorf("failed to read %s: %w", l.name, err)
		}
		if current.Max != unix.RLIM_INFINITY && l.value > current.Max {
			return fmt.Errorf("%s ceiling %d exceeds hard limit %d", l.name, l.value, current.Max)
		}
	}
	return nil
}

func applyRlimits(p Policy) error {
	for _, l := range p.rlimits() {
		if l.value == 0 {
			continue
		}
		limit := unix.Rlimit{Cur: l.value, Max: l.value}
		if err := unix.Setrlimit(l.resource, &limit); err != nil {
			return fmt.Errorf("set %s: %w", l.name, err)
		}
	}
	return nil
}

// runTarget applies the policy to itself and execs the target program
func runTarget(args []string) int {
	policy, target, err := parseHelperArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", HelperCommand, err)
		return HelperExitSetup
	}

	// Resolve before limiting the address space
	path, err := exec.LookPath(target[0])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", HelperCommand, err)
		return HelperExitNotFound
	}

	if err := applyRlimits(policy); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", HelperCommand, err)
		return HelperExitSetup
	}

	err = unix.Exec(path, target, os.Environ())
	_, _ = fmt.Fprintf(os.Stderr, "%s: exec %s: %v\n", HelperCommand, target[0], err)
	return HelperExitSetup
}
