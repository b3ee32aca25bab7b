package remote

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
)

// jdoodleRequest is the JDoodle execute payload
type jdoodleRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Script       string `json:"script"`
	Language     string `json:"language"`
	VersionIndex string `json:"versionIndex"`
	Stdin        string `json:"stdin"`
}

// jdoodleResponse is the JDoodle execute response. Output holds stdout and
// stderr interleaved; it is absent when the request was rejected.
type jdoodleResponse struct {
	Output     *string `json:"output"`
	StatusCode int     `json:"statusCode"`
	Memory     string  `json:"memory"`
	CPUTime    string  `json:"cpuTime"`
	Error      string  `json:"error"`
}

// JDoodleClient calls a JDoodle-compatible execute endpoint
type JDoodleClient struct {
	backend
}

// NewJDoodleClient creates a JDoodleClient
func NewJDoodleClient(logger *zap.Logger, cfg config.BackendConfig, maxOutputChars int, opts ...Option) *JDoodleClient {
	return &JDoodleClient{backend: newBackend(logger, cfg, maxOutputChars, opts)}
}

// Execute runs req on JDoodle
func (c *JDoodleClient) Execute(ctx context.Context, req execution.Request) (execution.Result, error) {
	resp, err := c.post(ctx, jdoodleRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Script:       req.Source,
		Language:     c.mapLanguage(req.Language),
		VersionIndex: "0",
		Stdin:        req.Stdin,
	})
	if err != nil {
		return execution.Result{}, err
	}

	result, err := c.normalize(resp)
	if err != nil {
		return execution.Result{}, err
	}
	result.Language = req.Language
	return result, nil
}

// normalize maps a JDoodle response onto a Result. Success requires HTTP 200
// and an output field.
func (c *JDoodleClient) normalize(resp response) (execution.Result, error) {
	var body jdoodleResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return execution.Result{}, c.malformed(resp, "invalid JSON body")
	}

	if resp.StatusCode != http.StatusOK || body.Output == nil {
		message := body.Error
		if message == "" {
			message = "missing output field"
		}
		return execution.Result{}, c.malformed(resp, message)
	}

	c.observe("ok")
	return execution.Result{
		Success: true,
		Stdout:  c.truncate(*body.Output),
		Backend: execution.Backend(c.config.Name),
	}, nil
}
