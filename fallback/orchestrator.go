package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/metrics"
	"github.com/fluxflow/coderunner/remote"
)

// NoOutput is reported when a backend produced no output at all
const NoOutput = "(No output)"

// ErrTimeout is returned when the last backend attempted timed out
var ErrTimeout = errors.New("execution timeout")

// Response is the outcome of one remote execution
type Response struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	Source   string `json:"source"`
	Language string `json:"language"`
}

// BackendInfo is one row of the remote capability table
type BackendInfo struct {
	Name      string   `json:"name"`
	Enabled   bool     `json:"enabled"`
	Languages []string `json:"languages"`
}

// Orchestrator runs requests on the primary backend and falls back to the
// secondary one
type Orchestrator struct {
	logger         *zap.Logger
	config         config.RemoteConfig
	primary        remote.Client
	secondary      remote.Client
	primaryEnabled bool
}

// NewOrchestrator creates an Orchestrator. The primary is only tried when
// its credentials are configured.
func NewOrchestrator(logger *zap.Logger, cfg config.RemoteConfig, primary, secondary remote.Client) *Orchestrator {
	return &Orchestrator{
		logger:         logger,
		config:         cfg,
		primary:        primary,
		secondary:      secondary,
		primaryEnabled: cfg.Primary.HasCredentials(),
	}
}

// NewFromConfig creates an Orchestrator with the configured JDoodle-style
// primary and Piston-style secondary clients
func NewFromConfig(logger *zap.Logger, cfg *config.Config) *Orchestrator {
	primary := remote.NewJDoodleClient(logger, cfg.Remote.Primary, cfg.Execution.MaxOutputChars)
	secondary := remote.NewPistonClient(logger, cfg.Remote.Secondary, cfg.Execution.MaxOutputChars)
	return NewOrchestrator(logger, cfg.Remote, primary, secondary)
}

// Backends returns the remote capability table
func (o *Orchestrator) Backends() []BackendInfo {
	return []BackendInfo{
		{Name: o.primary.Name(), Enabled: o.primaryEnabled, Languages: languageIDs(o.config.Primary.Languages)},
		{Name: o.secondary.Name(), Enabled: true, Languages: languageIDs(o.config.Secondary.Languages)},
	}
}

// Execute runs req remotely. A timeout on the final backend is reported as
// ErrTimeout; any other returned error is an internal failure.
func (o *Orchestrator) Execute(ctx context.Context, req execution.Request) (Response, error) {
	label := o.languageLabel(req.Language)
	if req.Source == "" {
		metrics.ObserveExecution(metrics.PathRemote, label, metrics.OutcomeRejected, 0)
		return Response{}, execution.Validationf("No script provided")
	}

	start := time.Now()
	resp, err := o.execute(ctx, req)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, ErrTimeout):
		metrics.ObserveExecution(metrics.PathRemote, label, metrics.OutcomeTimeout, elapsed)
	case err != nil:
		metrics.ObserveExecution(metrics.PathRemote, label, metrics.OutcomeError, elapsed)
	case resp.Success:
		metrics.ObserveExecution(metrics.PathRemote, label, metrics.OutcomeSuccess, elapsed)
	default:
		metrics.ObserveExecution(metrics.PathRemote, label, metrics.OutcomeRuntimeError, elapsed)
	}

	return resp, err
}

func (o *Orchestrator) execute(ctx context.Context, req execution.Request) (Response, error) {
	if o.primaryEnabled {
		if resp, ok := o.tryPrimary(ctx, req); ok {
			return resp, nil
		}
	} else {
		o.logger.Debug("primary backend has no credentials, skipping", zap.String("backend", o.primary.Name()))
		metrics.FallbacksTotal.WithLabelValues(metrics.ReasonNoCredentials).Inc()
	}

	return o.trySecondary(ctx, req)
}

// tryPrimary reports false when the request should fall through
func (o *Orchestrator) tryPrimary(ctx context.Context, req execution.Request) (Response, bool) {
	result, err := o.primary.Execute(ctx, req)

	reason := ""
	switch {
	case err != nil:
		var respErr *remote.ResponseError
		if errors.As(err, &respErr) {
			reason = metrics.ReasonMalformed
		} else {
			reason = metrics.ReasonNetwork
		}
	case remote.IsQuotaExhausted(result.Output(), o.config.QuotaMarker):
		reason = metrics.ReasonQuota
	}

	if reason != "" {
		o.logger.Warn("primary backend failed, trying secondary",
			zap.String("backend", o.primary.Name()),
			zap.String("reason", reason),
			zap.Error(err))
		metrics.FallbacksTotal.WithLabelValues(reason).Inc()
		return Response{}, false
	}

	return o.respond(o.primary.Name(), req.Language, result), true
}

// trySecondary returns whatever the secondary backend answered
func (o *Orchestrator) trySecondary(ctx context.Context, req execution.Request) (Response, error) {
	name := o.secondary.Name()

	result, err := o.secondary.Execute(ctx, req)
	if err != nil {
		var respErr *remote.ResponseError
		if errors.As(err, &respErr) {
			o.logger.Info("secondary backend rejected request",
				zap.String("backend", name),
				zap.Int("status", respErr.StatusCode),
				zap.String("message", respErr.Message))
			return Response{
				Success:  false,
				Output:   "",
				Error:    fmt.Sprintf("%s Error: %s", name, respErr.Message),
				Source:   name,
				Language: req.Language,
			}, nil
		}
		if remote.IsTimeout(err) {
			o.logger.Warn("secondary backend timed out", zap.String("backend", name), zap.Error(err))
			return Response{}, fmt.Errorf("%s: %w", name, ErrTimeout)
		}
		o.logger.Error("secondary backend failed", zap.String("backend", name), zap.Error(err))
		return Response{}, err
	}

	return o.respond(name, req.Language, result), nil
}

func (o *Orchestrator) respond(source, language string, result execution.Result) Response {
	output := result.Output()
	if output == "" {
		output = NoOutput
	}

	errText := ""
	if !result.Success {
		errText = result.Stderr
	}

	o.logger.Info("remote execution completed",
		zap.String("backend", source),
		zap.String("language", language),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode))

	return Response{
		Success:  result.Success,
		Output:   output,
		Error:    errText,
		Source:   source,
		Language: language,
	}
}

// languageLabel is the metrics label for a requested language. Ids missing
// from both language maps share one label.
func (o *Orchestrator) languageLabel(language string) string {
	if _, ok := o.config.Primary.Languages[language]; ok {
		return language
	}
	if _, ok := o.config.Secondary.Languages[language]; ok {
		return language
	}
	return metrics.LanguageOther
}

func languageIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
