package sandbox

import (
	"context"
	"sort"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/metrics"
)

// LanguageInfo is one row of the local capability table
type LanguageInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

// Engine dispatches requests to the Executor registered for their language
type Engine struct {
	logger         *zap.Logger
	maxSourceChars int
	executors      map[string]Executor
	languages      map[string]LanguageInfo
}

// NewEngine creates an empty Engine. Executors are registered with Register
// before the engine serves requests and never change afterwards.
func NewEngine(logger *zap.Logger, maxSourceChars int) *Engine {
	return &Engine{
		logger:         logger,
		maxSourceChars: maxSourceChars,
		executors:      make(map[string]Executor),
		languages:      make(map[string]LanguageInfo),
	}
}

// Register binds an Executor to a language
func (e *Engine) Register(info LanguageInfo, executor Executor) {
	e.executors[info.ID] = executor
	e.languages[info.ID] = info
}

// Languages returns the capability table sorted by id
func (e *Engine) Languages() []LanguageInfo {
	langs := make([]LanguageInfo, 0, len(e.languages))
	for _, l := range e.languages {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].ID < langs[j].ID })
	return langs
}

// Supports reports whether language has a registered executor
func (e *Engine) Supports(language string) bool {
	_, ok := e.executors[language]
	return ok
}

// Validate checks a request before anything is spawned
func (e *Engine) Validate(req execution.Request) error {
	if req.Source == "" {
		return execution.Validationf("No code provided")
	}
	if utf8.RuneCountInString(req.Source) > e.maxSourceChars {
		return execution.Validationf("Code too long (max %d chars)", e.maxSourceChars)
	}
	if !e.Supports(req.Language) {
		return execution.Validationf("Unsupported language: %s", req.Language)
	}
	return nil
}

// Execute validates req and runs it on the matching executor.
// Validation failures are returned as *execution.ValidationError.
func (e *Engine) Execute(ctx context.Context, req execution.Request) (execution.Result, error) {
	if err := e.Validate(req); err != nil {
		metrics.ObserveExecution(metrics.PathLocal, e.languageLabel(req.Language), metrics.OutcomeRejected, 0)
		return execution.Result{}, err
	}

	e.logger.Info("executing code locally",
		zap.String("language", req.Language),
		zap.Int("source_len", len(req.Source)),
		zap.Int("stdin_len", len(req.Stdin)))

	start := time.Now()
	result, err := e.executors[req.Language].Execute(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveExecution(metrics.PathLocal, req.Language, metrics.OutcomeError, elapsed)
		e.logger.Error("local execution failed", zap.String("language", req.Language), zap.Error(err))
		return execution.Result{}, err
	}

	result.Backend = execution.BackendLocal
	result.Language = req.Language

	metrics.ObserveExecution(metrics.PathLocal, req.Language, outcomeOf(result), elapsed)
	e.logger.Info("local execution completed",
		zap.String("language", req.Language),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.String("phase", string(result.Phase)),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

// languageLabel is the metrics label for a requested language
func (e *Engine) languageLabel(language string) string {
	if e.Supports(language) {
		return language
	}
	return metrics.LanguageOther
}

func outcomeOf(r execution.Result) string {
	switch {
	case r.TimedOut:
		return metrics.OutcomeTimeout
	case r.Success:
		return metrics.OutcomeSuccess
	case r.Phase == execution.PhaseCompilation:
		return metrics.OutcomeCompileError
	default:
		return metrics.OutcomeRuntimeError
	}
}
