package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyFromMB(t *testing.T) {
	p := PolicyFromMB(50, 5)
	assert.Equal(t, uint64(50*1024*1024), p.AddressSpaceBytes)
	assert.Equal(t, uint64(5), p.CPUSeconds)
	assert.Zero(t, p.Processes)

	limited := p.WithProcesses(32)
	assert.Equal(t, uint64(32), limited.Processes)
	assert.Equal(t, p.AddressSpaceBytes, limited.AddressSpaceBytes)
	assert.Zero(t, p.Processes)
}

func TestParseHelperArgs(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		policy, target, err := parseHelperArgs([]string{"1048576", "3", "16", "python3", "main.py"})
		require.NoError(t, err)
		assert.Equal(t, Policy{AddressSpaceBytes: 1048576, CPUSeconds: 3, Processes: 16}, policy)
		assert.Equal(t, []string{"python3", "main.py"}, target)
	})

	t.Run("MissingProgram", func(t *testing.T) {
		_, _, err := parseHelperArgs([]string{"1", "2", "3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "usage")
	})

	t.Run("InvalidNumbers", func(t *testing.T) {
		_, _, err := parseHelperArgs([]string{"lots", "2", "0", "true"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid address space limit")

		_, _, err = parseHelperArgs([]string{"1", "-2", "0", "true"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cpu limit")

		_, _, err = parseHelperArgs([]string{"1", "2", "many", "true"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid process limit")
	})
}

func TestHelperStatus(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		signum int
		want   int
	}{
		{"Success", 0, 0, 0},
		{"ExitCode", 3, 0, 3},
		{"Signal", 0, 9, -9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := parseStatus(formatStatus(tt.code, tt.signum))
			require.True(t, ok)
			assert.Equal(t, tt.want, code)
		})
	}

	t.Run("Unusable", func(t *testing.T) {
		for _, msg := range []string{"", "exit", "crashed 3", "signal x"} {
			_, ok := parseStatus(msg)
			assert.False(t, ok, msg)
		}
	})
}

func TestMaybeRunHelperIgnoresOtherArgs(t *testing.T) {
	_, ok := MaybeRunHelper([]string{"server"})
	assert.False(t, ok)

	_, ok = MaybeRunHelper([]string{"server", "--config", "x.yaml"})
	assert.False(t, ok)
}

func TestLimiterCommand(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("resource limits require linux")
	}

	limiter := NewLimiterWithHelper("/usr/local/bin/coderunner")

	t.Run("WrapsTargetInHelper", func(t *testing.T) {
		cmd, err := limiter.Command(context.Background(), Policy{AddressSpaceBytes: 1024, CPUSeconds: 2, Processes: 8}, []string{"python3", "main.py"})
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/coderunner", cmd.Path)
		assert.Equal(t, []string{"/usr/local/bin/coderunner", HelperCommand, "1024", "2", "8", "python3", "main.py"}, cmd.Args)
		require.NotNil(t, cmd.SysProcAttr)
		assert.True(t, cmd.SysProcAttr.Setpgid)
		assert.NotNil(t, cmd.Cancel)
		assert.Equal(t, waitDelay, cmd.WaitDelay)
	})

	t.Run("RejectsEmptyCommand", func(t *testing.T) {
		_, err := limiter.Command(context.Background(), Policy{}, nil)
		require.Error(t, err)
	})
}

func TestLimiterVerify(t *testing.T) {
	if runtime.GOOS != "linux" {
		limiter := NewLimiterWithHelper(os.Args[0])
		require.Error(t, limiter.Verify(PolicyFromMB(50, 5)))
		return
	}

	t.Run("RunningBinaryIsUsable", func(t *testing.T) {
		limiter, err := NewLimiter()
		require.NoError(t, err)
		require.NoError(t, limiter.Verify(PolicyFromMB(50, 5)))
	})

	t.Run("MissingHelper", func(t *testing.T) {
		limiter := NewLimiterWithHelper(filepath.Join(t.TempDir(), "missing"))
		err := limiter.Verify(PolicyFromMB(50, 5))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rlimit helper")
	})

	t.Run("HelperIsDirectory", func(t *testing.T) {
		limiter := NewLimiterWithHelper(t.TempDir())
		err := limiter.Verify(PolicyFromMB(50, 5))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is a directory")
	})
}
