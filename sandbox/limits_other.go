//go:build !linux

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

var errUnsupported = errors.New("resource limits are not supported on " + runtime.GOOS)

func platformSupported() error {
	return errUnsupported
}

func isolateProcessGroup(*exec.Cmd) {}

func killProcessGroup(*exec.Cmd) error {
	return nil
}

func checkHardLimits(Policy) error {
	return errUnsupported
}

func runSupervisor([]string) int {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", HelperCommand, errUnsupported)
	return HelperExitSetup
}

func runTarget([]string) int {
	return runSupervisor(nil)
}
