package remote

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
)

type pistonFile struct {
	Content string `json:"content"`
}

// pistonRequest is the Piston execute payload
type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
	Stdin    string       `json:"stdin"`
}

// pistonStage is one stage (compile or run) of a Piston response. Code is
// null when the process was killed by a signal.
type pistonStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

func (s *pistonStage) exitCode() int {
	if s.Code != nil {
		return *s.Code
	}
	if s.Signal != nil && *s.Signal != "" {
		return -1
	}
	return 0
}

// pistonResponse is the Piston execute response. Run is absent when the
// request was rejected, in which case Message explains why.
type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Compile  *pistonStage `json:"compile"`
	Run      *pistonStage `json:"run"`
	Message  string       `json:"message"`
}

// PistonClient calls a Piston-compatible execute endpoint
type PistonClient struct {
	backend
}

// NewPistonClient creates a PistonClient
func NewPistonClient(logger *zap.Logger, cfg config.BackendConfig, maxOutputChars int, opts ...Option) *PistonClient {
	return &PistonClient{backend: newBackend(logger, cfg, maxOutputChars, opts)}
}

// Execute runs req on Piston
func (c *PistonClient) Execute(ctx context.Context, req execution.Request) (execution.Result, error) {
	resp, err := c.post(ctx, pistonRequest{
		Language: c.mapLanguage(req.Language),
		Version:  "*",
		Files:    []pistonFile{{Content: req.Source}},
		Stdin:    req.Stdin,
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

// normalize maps a Piston response onto a Result. A failed compile stage
// gates the run stage the same way it does locally.
func (c *PistonClient) normalize(resp response) (execution.Result, error) {
	var body pistonResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return execution.Result{}, c.malformed(resp, "invalid JSON body")
	}

	if body.Compile != nil && body.Compile.exitCode() != 0 {
		c.observe("ok")
		stderr := body.Compile.Stderr
		if stderr == "" {
			stderr = body.Compile.Output
		}
		return execution.Result{
			Success:  false,
			Stderr:   c.truncate(stderr),
			ExitCode: body.Compile.exitCode(),
			Phase:    execution.PhaseCompilation,
			Backend:  execution.Backend(c.config.Name),
		}, nil
	}

	if body.Run == nil {
		message := body.Message
		if message == "" {
			message = "Unknown error from " + c.config.Name
		}
		return execution.Result{}, c.malformed(resp, message)
	}

	c.observe("ok")
	code := body.Run.exitCode()
	result := execution.Result{
		Success:  code == 0,
		Stdout:   c.truncate(body.Run.Stdout),
		Stderr:   c.truncate(body.Run.Stderr),
		ExitCode: code,
		Backend:  execution.Backend(c.config.Name),
	}
	if body.Compile != nil {
		result.Phase = execution.PhaseExecution
	}
	return result, nil
}
