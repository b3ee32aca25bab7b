//go:build linux

package sandbox

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	maxSweeps     = 100
	sweepInterval = 10 * time.Millisecond
)

// runSupervisor starts the limited target, waits for it or for SIGTERM, then
// kills and reaps every process the target left behind. How the target ended
// is written to the status pipe when one was passed in.
func runSupervisor(args []string) int {
	if _, _, err := parseHelperArgs(args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", HelperCommand, err)
		return HelperExitSetup
	}
	status := openStatusPipe()

	// Pdeathsig fires when the forking thread exits, not the process
	runtime.LockOSThread()

	// Orphans below us re-parent here instead of to init, even after setsid
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: set child subreaper: %v\n", HelperCommand, err)
		return HelperExitSetup
	}

	self, err := os.Executable()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", HelperCommand, err)
		return HelperExitSetup
	}

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, syscall.SIGTERM)

	target := exec.Command(self, append([]string{targetCommand}, args...)...) //nolint:gosec // re-executes this binary
	target.Stdin = os.Stdin
	target.Stdout = os.Stdout
	target.Stderr = os.Stderr
	target.Env = os.Environ()
	target.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	if err := target.Start(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: start target: %v\n", HelperCommand, err)
		return HelperExitSetup
	}

	done := make(chan struct{})
	go func() {
		_ = target.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-terminate:
		_ = target.Process.Kill()
		<-done
	}

	// Only now may anything else reap, or Wait above could lose its child
	killDescendants()

	if target.ProcessState == nil {
		return HelperExitSetup
	}
	ws, ok := target.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return HelperExitSetup
	}
	if ws.Signaled() {
		status.report(0, int(ws.Signal()))
		return 128 + int(ws.Signal())
	}
	status.report(ws.ExitStatus(), 0)
	return ws.ExitStatus()
}

type statusPipe struct {
	open bool
}

func openStatusPipe() statusPipe {
	var st unix.Stat_t
	if err := unix.Fstat(statusFD, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return statusPipe{}
	}
	// The target must not inherit it
	unix.CloseOnExec(statusFD)
	return statusPipe{open: true}
}

func (s statusPipe) report(code, signum int) {
	if !s.open {
		return
	}
	_, _ = unix.Write(statusFD, []byte(formatStatus(code, signum)))
	_ = unix.Close(statusFD)
}

// killDescendants kills and reaps every process below this one until none
// are left. New children forked mid-sweep are caught by the next sweep.
func killDescendants() {
	self := os.Getpid()
	for sweep := 0; sweep < maxSweeps; sweep++ {
		pids := descendants(self)
		if len(pids) == 0 {
			return
		}
		for _, pid := range pids {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
		reapChildren()
		time.Sleep(sweepInterval)
		reapChildren()
	}
}

func reapChildren() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}

// descendants lists every process below root, zombies included
func descendants(root int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	children := make(map[int][]int)
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if ppid, ok := parentPID(pid); ok {
			children[ppid] = append(children[ppid], pid)
		}
	}

	var found []int
	queue := []int{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			found = append(found, child)
			queue = append(queue, child)
		}
	}
	return found
}

// parentPID reads the parent pid from /proc/<pid>/stat. The command name
// may contain spaces and parentheses, so fields are counted from the last ')'.
func parentPID(pid int) (int, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, false
	}
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return 0, false
	}
	fields := bytes.Fields(data[end+1:])
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0, false
	}
	return ppid, true
}
