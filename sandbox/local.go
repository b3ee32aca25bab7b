package sandbox

// The two local language executors. InterpretedExecutor runs a single source
// file through an interpreter; CompiledExecutor compiles the source in a
// scratch directory and only runs the binary when compilation succeeded.

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/execution"
)

// localExecutor carries what both local executors share
type localExecutor struct {
	logger *zap.Logger
	config *Config
	lang   LanguageSpec
	runner ProcessRunner
	fs     FileSystem
}

// ExecutorOption defines a functional option for the local executors
type ExecutorOption func(*localExecutor)

// WithProcessRunner sets the ProcessRunner used to spawn processes
func WithProcessRunner(runner ProcessRunner) ExecutorOption {
	return func(l *localExecutor) {
		l.runner = runner
	}
}

// WithFileSystem sets the FileSystem used for scratch directories
func WithFileSystem(fs FileSystem) ExecutorOption {
	return func(l *localExecutor) {
		l.fs = fs
	}
}

func newLocalExecutor(logger *zap.Logger, config *Config, lang LanguageSpec, limiter *Limiter, opts []ExecutorOption) localExecutor {
	executor := localExecutor{
		logger: logger,
		config: config,
		lang:   lang,
		fs:     &RealFileSystem{},
	}
	if limiter != nil {
		executor.runner = NewLimitedProcessRunner(limiter, config.MaxOutputChars)
	}

	// Apply options
	for _, opt := range opts {
		opt(&executor)
	}

	return executor
}

// openWorkspace creates the scratch directory and writes the source into it
func (l *localExecutor) openWorkspace(source string) (*workspace, string, error) {
	ws, err := newWorkspace(l.fs, l.config.TempDir)
	if err != nil {
		return nil, "", err
	}

	sourcePath, err := ws.writeSource(l.lang.SourceFile, source)
	if err != nil {
		l.closeWorkspace(ws)
		return nil, "", err
	}
	return ws, sourcePath, nil
}

func (l *localExecutor) closeWorkspace(ws *workspace) {
	if rmErr := ws.Close(); rmErr != nil {
		l.logger.Error("failed to remove temp directory", zap.String("path", ws.dir), zap.Error(rmErr))
	}
}

// run spawns the user's program with the request's stdin under the run policy
func (l *localExecutor) run(ctx context.Context, ws *workspace, args []string, stdin string, phase execution.Phase) (execution.Result, error) {
	out, err := l.runner.Run(ctx, ProcessSpec{
		Args:    args,
		Dir:     ws.dir,
		Stdin:   stdin,
		Timeout: l.config.RunTimeout,
		Policy:  l.config.RunPolicy,
	})
	if err != nil {
		return execution.Result{}, fmt.Errorf("failed to execute %s program: %w", l.lang.ID, err)
	}

	if out.TimedOut {
		l.logger.Info("execution timed out", zap.String("language", l.lang.ID), zap.Duration("limit", l.config.RunTimeout))
		return TimeoutResult(l.lang.ID, phase, "Execution", l.config.RunTimeout), nil
	}

	return execution.Result{
		Success:  out.ExitCode == 0,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Phase:    phase,
		Language: l.lang.ID,
	}, nil
}

// TimeoutResult builds the result reported when a phase exceeds its ceiling
func TimeoutResult(language string, phase execution.Phase, what string, limit time.Duration) execution.Result {
	return execution.Result{
		Success:  false,
		Stdout:   "",
		Stderr:   fmt.Sprintf("%s timeout (%ds limit exceeded)", what, int(limit.Seconds())),
		ExitCode: -1,
		Phase:    phase,
		Language: language,
		TimedOut: true,
	}
}

// InterpretedExecutor runs source through an interpreter
type InterpretedExecutor struct {
	localExecutor
}

// NewInterpretedExecutor creates an executor for an interpreted language
func NewInterpretedExecutor(logger *zap.Logger, config *Config, lang LanguageSpec, limiter *Limiter, opts ...ExecutorOption) *InterpretedExecutor {
	return &InterpretedExecutor{localExecutor: newLocalExecutor(logger, config, lang, limiter, opts)}
}

// Execute writes the source to a scratch directory and runs the interpreter on it
func (e *InterpretedExecutor) Execute(ctx context.Context, req execution.Request) (execution.Result, error) {
	ws, sourcePath, err := e.openWorkspace(req.Source)
	if err != nil {
		return execution.Result{}, err
	}
	defer e.closeWorkspace(ws)

	return e.run(ctx, ws, []string{e.lang.Interpreter, sourcePath}, req.Stdin, execution.PhaseNone)
}

// CompiledExecutor compiles source and runs the resulting binary.
// Compilation gates execution: a failed compile never runs anything.
type CompiledExecutor struct {
	localExecutor
}

// NewCompiledExecutor creates an executor for a compiled language
func NewCompiledExecutor(logger *zap.Logger, config *Config, lang LanguageSpec, limiter *Limiter, opts ...ExecutorOption) *CompiledExecutor {
	return &CompiledExecutor{localExecutor: newLocalExecutor(logger, config, lang, limiter, opts)}
}

// Execute compiles the source and, if that succeeds, runs the binary with the request's stdin
func (e *CompiledExecutor) Execute(ctx context.Context, req execution.Request) (execution.Result, error) {
	ws, sourcePath, err := e.openWorkspace(req.Source)
	if err != nil {
		return execution.Result{}, err
	}
	defer e.closeWorkspace(ws)

	binaryPath := ws.path(BinaryName)
	compileArgs := append([]string{e.lang.Compiler, sourcePath, "-o", binaryPath}, e.lang.CompileFlags...)

	compiled, err := e.runner.Run(ctx, ProcessSpec{
		Args:    compileArgs,
		Dir:     ws.dir,
		Timeout: e.lang.CompileTimeout,
		Policy:  e.config.CompilePolicy,
	})
	if err != nil {
		return execution.Result{}, fmt.Errorf("failed to compile %s program: %w", e.lang.ID, err)
	}

	if compiled.TimedOut {
		e.logger.Info("compilation timed out", zap.String("language", e.lang.ID), zap.Duration("limit", e.lang.CompileTimeout))
		return TimeoutResult(e.lang.ID, execution.PhaseCompilation, "Compilation", e.lang.CompileTimeout), nil
	}

	if compiled.ExitCode != 0 {
		e.logger.Debug("compilation failed",
			zap.String("language", e.lang.ID),
			zap.Int("exit_code", compiled.ExitCode),
			zap.Int("stderr_len", len(compiled.Stderr)))
		return execution.Result{
			Success:  false,
			Stdout:   "",
			Stderr:   compiled.Stderr,
			ExitCode: compiled.ExitCode,
			Phase:    execution.PhaseCompilation,
			Language: e.lang.ID,
		}, nil
	}

	return e.run(ctx, ws, []string{binaryPath}, req.Stdin, execution.PhaseExecution)
}
