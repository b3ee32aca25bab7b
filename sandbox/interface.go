package sandbox

import (
	"context"
	"os"
	"time"

	"github.com/fluxflow/coderunner/execution"
)

// Executor runs one request for a single language and returns a captured result.
//
// Implementations return structured outcomes: compile failures, runtime
// failures and timeouts are reported through execution.Result. A non-nil
// error means the sandbox itself failed.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) (execution.Result, error)
}

// ProcessSpec describes one child process spawned under a Policy
type ProcessSpec struct {
	Args    []string
	Dir     string
	Stdin   string
	Timeout time.Duration
	Policy  Policy
}

// ProcessOutput is the captured outcome of one child process.
// Stdout and Stderr are already truncated to the configured cap.
type ProcessOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// ProcessRunner spawns child processes. Every executor spawns through a
// ProcessRunner so the resource policy cannot be skipped per call site.
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (ProcessOutput, error)
}

// FileSystem defines the file system operations used for scoped workspaces
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// LanguageSpec describes how one local language is materialized, compiled and run
type LanguageSpec struct {
	ID             string
	Name           string
	Extension      string
	SourceFile     string
	Interpreter    string
	Compiler       string
	CompileFlags   []string
	CompileTimeout time.Duration
}

// Compiled reports whether the language has a compile phase
func (l LanguageSpec) Compiled() bool {
	return l.Compiler != ""
}

// Config holds the ceilings shared by every local executor
type Config struct {
	MaxSourceChars int
	MaxOutputChars int
	RunTimeout     time.Duration
	RunPolicy      Policy
	CompilePolicy  Policy
	TempDir        string
}

// File permission constants
const (
	FilePermission = 0600
)

// Workspace naming
const (
	WorkspacePattern = "coderunner-*"
	BinaryName       = "program"
)
