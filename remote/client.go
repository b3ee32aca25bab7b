package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/metrics"
)

// maxResponseBytes bounds how much of a backend response is read
const maxResponseBytes = 8 << 20

// Client executes code on one remote backend
type Client interface {
	Name() string
	Execute(ctx context.Context, req execution.Request) (execution.Result, error)
}

// HTTPDoer is the subset of *http.Client used by the clients
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ResponseError reports a backend response that lacks the expected success
// field. Message carries the backend's own explanation when it sent one.
type ResponseError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s returned an unexpected response (status %d): %s", e.Backend, e.StatusCode, e.Message)
}

// IsTimeout reports whether err is a network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsQuotaExhausted reports whether a backend's output carries its quota
// exhaustion marker. The marker is not a documented contract, so this is a
// best-effort check.
func IsQuotaExhausted(output, marker string) bool {
	return marker != "" && strings.Contains(output, marker)
}

// Option defines a functional option for the remote clients
type Option func(*backend)

// WithHTTPClient sets the HTTP client used to reach the backend
func WithHTTPClient(doer HTTPDoer) Option {
	return func(b *backend) {
		b.http = doer
	}
}

// backend carries what every remote client shares
type backend struct {
	logger         *zap.Logger
	config         config.BackendConfig
	maxOutputChars int
	http           HTTPDoer
}

func newBackend(logger *zap.Logger, cfg config.BackendConfig, maxOutputChars int, opts []Option) backend {
	b := backend{
		logger:         logger,
		config:         cfg,
		maxOutputChars: maxOutputChars,
		http:           &http.Client{Timeout: cfg.Timeout()},
	}

	// Apply options
	for _, opt := range opts {
		opt(&b)
	}

	return b
}

// Name returns the backend's display name
func (b *backend) Name() string {
	return b.config.Name
}

// mapLanguage returns the backend identifier for a canonical language id.
// Unmapped ids pass through unchanged.
func (b *backend) mapLanguage(language string) string {
	if mapped, ok := b.config.Languages[language]; ok && mapped != "" {
		return mapped
	}
	return language
}

// response is the raw outcome of one backend call
type response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// post sends payload as JSON to the backend endpoint
func (b *backend) post(ctx context.Context, payload any) (response, error) {
	var info response

	body, err := json.Marshal(payload)
	if err != nil {
		return info, fmt.Errorf("encode request failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := b.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		b.observe(metricsResult(err))
		return info, fmt.Errorf("%s request failed: %w", b.config.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		b.observe(metricsResult(err))
		return info, fmt.Errorf("%s read response body failed: %w", b.config.Name, err)
	}

	b.logger.Debug("remote backend responded",
		zap.String("backend", b.config.Name),
		zap.Int("status", info.StatusCode),
		zap.Int("body_len", len(info.Body)),
		zap.Duration("elapsed", info.Duration))

	return info, nil
}

func (b *backend) observe(result string) {
	metrics.BackendRequests.WithLabelValues(b.config.Name, result).Inc()
}

func (b *backend) malformed(resp response, message string) *ResponseError {
	b.observe("malformed")
	return &ResponseError{Backend: b.config.Name, StatusCode: resp.StatusCode, Message: message}
}

func (b *backend) truncate(s string) string {
	return execution.TruncateChars(s, b.maxOutputChars)
}

func metricsResult(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	return "network_error"
}
