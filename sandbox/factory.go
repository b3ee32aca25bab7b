package sandbox

import (
	"fmt"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
)

// NewConfig derives the executor ceilings from the application configuration
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		MaxSourceChars: cfg.Execution.MaxSourceChars,
		MaxOutputChars: cfg.Execution.MaxOutputChars,
		RunTimeout:     cfg.RunTimeout(),
		RunPolicy:      PolicyFromMB(cfg.Execution.MemoryMB, cfg.Execution.CPUTimeSec).WithProcesses(cfg.Execution.MaxProcesses),
		TempDir:        cfg.Execution.TempDir,
	}
}

// NewLanguageSpec converts one configured language into a LanguageSpec
func NewLanguageSpec(id string, lang config.LanguageConfig) (LanguageSpec, error) {
	flags, err := shlex.Split(lang.CompileFlags)
	if err != nil {
		return LanguageSpec{}, fmt.Errorf("invalid compile flags for %s: %w", id, err)
	}

	name := lang.Name
	if name == "" {
		name = id
	}

	return LanguageSpec{
		ID:             id,
		Name:           name,
		Extension:      lang.Extension,
		SourceFile:     lang.SourceFile,
		Interpreter:    lang.Interpreter,
		Compiler:       lang.Compiler,
		CompileFlags:   flags,
		CompileTimeout: time.Duration(lang.CompileTimeoutSec) * time.Second,
	}, nil
}

// NewEngineFromConfig builds the local engine with one executor per configured language
func NewEngineFromConfig(logger *zap.Logger, cfg *config.Config, limiter *Limiter, opts ...ExecutorOption) (*Engine, error) {
	executorConfig := NewConfig(cfg)
	engine := NewEngine(logger, executorConfig.MaxSourceChars)

	for id, langCfg := range cfg.Languages {
		lang, err := NewLanguageSpec(id, langCfg)
		if err != nil {
			return nil, err
		}

		var executor Executor
		if lang.Compiled() {
			// The compiler is trusted but still bounded; its CPU ceiling follows its own timeout
			langConfig := *executorConfig
			langConfig.CompilePolicy = PolicyFromMB(cfg.Execution.CompileMemoryMB, langCfg.CompileTimeoutSec)
			executor = NewCompiledExecutor(logger, &langConfig, lang, limiter, opts...)
		} else {
			executor = NewInterpretedExecutor(logger, executorConfig, lang, limiter, opts...)
		}

		engine.Register(LanguageInfo{ID: lang.ID, Name: lang.Name, Extension: lang.Extension}, executor)
		logger.Debug("registered local language",
			zap.String("language", lang.ID),
			zap.Bool("compiled", lang.Compiled()))
	}

	return engine, nil
}

// NewLimiterFromConfig creates the process Limiter and verifies at startup
// that the run and compile policies can be applied on this host
func NewLimiterFromConfig(cfg *config.Config) (*Limiter, error) {
	limiter, err := NewLimiter()
	if err != nil {
		return nil, err
	}

	policies := []Policy{NewConfig(cfg).RunPolicy}
	for _, lang := range cfg.Languages {
		if lang.Compiled() {
			policies = append(policies, PolicyFromMB(cfg.Execution.CompileMemoryMB, lang.CompileTimeoutSec))
		}
	}

	if err := limiter.Verify(policies...); err != nil {
		return nil, fmt.Errorf("resource limiter unavailable: %w", err)
	}
	return limiter, nil
}
