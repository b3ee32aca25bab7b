package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/fallback"
)

// Tool names
const (
	ToolRunCode       = "run_code"
	ToolRunCodeRemote = "run_code_remote"
)

// LocalEngine runs code on this host
type LocalEngine interface {
	Execute(ctx context.Context, req execution.Request) (execution.Result, error)
}

// RemoteRunner runs code on the remote backends
type RemoteRunner interface {
	Execute(ctx context.Context, req execution.Request) (fallback.Response, error)
}

// localResult is the run_code tool result
type localResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
	Language string `json:"language,omitempty"`
	Phase    string `json:"phase,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	engine    LocalEngine
	remote    RemoteRunner
	mcpServer *server.MCPServer

	mu         sync.Mutex
	cancel     context.CancelFunc
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, engine LocalEngine, remote RemoteRunner) (*MCPServer, error) {
	if cfg.MCP.Enabled && cfg.MCP.Transport != "stdio" && cfg.MCP.Transport != "http" {
		return nil, fmt.Errorf("unsupported transport: %s", cfg.MCP.Transport)
	}

	s := &MCPServer{
		config: cfg,
		logger: logger,
		engine: engine,
		remote: remote,
	}

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("coderunner", "1.0.0")

	s.registerRunCodeTool()
	s.registerRunCodeRemoteTool()

	return s, nil
}

// registerRunCodeTool registers the run_code tool
func (s *MCPServer) registerRunCodeTool() {
	tool := mcp.Tool{
		Name:        ToolRunCode,
		Description: "Compile and run code on the local resource-limited runner",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to run",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language id, defaults to python",
				},
				"input": map[string]any{
					"type":        "string",
					"description": "Data piped to the program's stdin (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunCode)
}

// registerRunCodeRemoteTool registers the run_code_remote tool
func (s *MCPServer) registerRunCodeRemoteTool() {
	tool := mcp.Tool{
		Name:        ToolRunCodeRemote,
		Description: "Run code on a remote execution backend, falling back to the secondary backend when the primary is unavailable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"script": map[string]any{
					"type":        "string",
					"description": "Source code to run",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language id, defaults to python",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Data piped to the program's stdin (optional)",
				},
			},
			Required: []string{"script"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunCodeRemote)
}

// handleRunCode handles the run_code tool
func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	req := execution.Request{
		Source:   code,
		Language: execution.NormalizeLanguage(request.GetString("language", "")),
		Stdin:    request.GetString("input", ""),
	}
	s.logger.Info("run_code requested", zap.String("language", req.Language))

	result, err := s.engine.Execute(ctx, req)
	if err != nil {
		var validationErr *execution.ValidationError
		if errors.As(err, &validationErr) {
			return mcp.NewToolResultError(validationErr.Message), nil
		}
		s.logger.Error("local execution failed", zap.String("language", req.Language), zap.Error(err))
		return mcp.NewToolResultError("Execution failed"), nil
	}

	out := localResult{
		Success:  result.Success,
		Output:   result.Stdout,
		Error:    result.Stderr,
		ExitCode: result.ExitCode,
		Language: result.Language,
		Phase:    string(result.Phase),
		TimedOut: result.TimedOut,
	}
	return jsonResult(out, !result.Success)
}

// handleRunCodeRemote handles the run_code_remote tool
func (s *MCPServer) handleRunCodeRemote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	script, err := request.RequireString("script")
	if err != nil {
		return nil, fmt.Errorf("script parameter is required: %w", err)
	}

	req := execution.Request{
		Source:   script,
		Language: execution.NormalizeLanguage(request.GetString("language", "")),
		Stdin:    request.GetString("stdin", ""),
	}
	s.logger.Info("run_code_remote requested", zap.String("language", req.Language))

	resp, err := s.remote.Execute(ctx, req)
	if err != nil {
		var validationErr *execution.ValidationError
		switch {
		case errors.As(err, &validationErr):
			return mcp.NewToolResultError(validationErr.Message), nil
		case errors.Is(err, fallback.ErrTimeout):
			return mcp.NewToolResultError("Execution timeout"), nil
		default:
			s.logger.Error("remote execution failed", zap.String("language", req.Language), zap.Error(err))
			return mcp.NewToolResultError("Execution failed"), nil
		}
	}

	return jsonResult(resp, !resp.Success)
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = isError
	return result, nil
}

// Start serves the configured transport in the background. It does nothing
// when the MCP surface is disabled.
func (s *MCPServer) Start(ctx context.Context) error {
	if !s.config.MCP.Enabled {
		s.logger.Debug("MCP server disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.config.MCP.Transport {
	case "stdio":
		serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		go func() {
			if err := s.ServeStdio(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("MCP stdio server failed", zap.Error(err))
			}
		}()
	case "http":
		s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
		go func() {
			if err := s.ServeHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("MCP HTTP server failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Stop shuts the running transport down
func (s *MCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.httpServer != nil {
		err := s.httpServer.Shutdown(ctx)
		s.httpServer = nil
		return err
	}
	return nil
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}

// ServeHTTP serves MCP over streamable HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.MCP.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	}
	return httpServer.Start(fmt.Sprintf(":%d", port))
}
