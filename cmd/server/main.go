package main

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/api"
	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/fallback"
	"github.com/fluxflow/coderunner/logger"
	"github.com/fluxflow/coderunner/mcpserver"
	"github.com/fluxflow/coderunner/sandbox"
)

func main() {
	// Must run before anything else: the helper execs the untrusted target
	if code, ok := sandbox.MaybeRunHelper(os.Args); ok {
		os.Exit(code)
	}

	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Resource limiter, verified against this host
			sandbox.NewLimiterFromConfig,

			// Local execution engine
			newEngine,

			// Remote fallback orchestrator
			fallback.NewFromConfig,

			// HTTP API
			newAPIServer,

			// MCP Server
			newMCPServer,
		),

		fx.Invoke(registerHooks),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newEngine(log *zap.Logger, cfg *config.Config, limiter *sandbox.Limiter) (*sandbox.Engine, error) {
	return sandbox.NewEngineFromConfig(log, cfg, limiter)
}

func newAPIServer(cfg *config.Config, log *zap.Logger, engine *sandbox.Engine, orchestrator *fallback.Orchestrator) *api.Server {
	return api.New(cfg, log, engine, orchestrator)
}

func newMCPServer(cfg *config.Config, log *zap.Logger, engine *sandbox.Engine, orchestrator *fallback.Orchestrator) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, engine, orchestrator)
}

func registerHooks(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, server *api.Server, mcpServer *mcpserver.MCPServer) {
	log.Info("configuration loaded",
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("execution.run_timeout_sec", cfg.Execution.RunTimeoutSec),
		zap.Int("execution.memory_mb", cfg.Execution.MemoryMB),
		zap.Int("execution.cpu_time_sec", cfg.Execution.CPUTimeSec),
		zap.Int("execution.max_source_chars", cfg.Execution.MaxSourceChars),
		zap.Int("execution.max_output_chars", cfg.Execution.MaxOutputChars),
		zap.String("remote.primary", cfg.Remote.Primary.Name),
		zap.Bool("remote.primary.credentials", cfg.Remote.Primary.HasCredentials()),
		zap.String("remote.secondary", cfg.Remote.Secondary.Name),
		zap.Bool("rate_limit.enabled", cfg.RateLimit.Enabled),
		zap.Bool("mcp.enabled", cfg.MCP.Enabled),
		zap.String("mcp.transport", cfg.MCP.Transport),
	)

	lc.Append(fx.Hook{
		OnStart: server.Start,
		OnStop:  server.Stop,
	})
	lc.Append(fx.Hook{
		OnStart: mcpServer.Start,
		OnStop:  mcpServer.Stop,
	})
}
