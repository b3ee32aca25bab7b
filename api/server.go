package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/fallback"
	"github.com/fluxflow/coderunner/sandbox"
)

// Service identity reported by / and /health
const (
	ServiceName = "FluxFlow Backend API"
	Version     = "1.0.0"
)

// LocalEngine runs code on this host
type LocalEngine interface {
	Execute(ctx context.Context, req execution.Request) (execution.Result, error)
	Languages() []sandbox.LanguageInfo
}

// RemoteRunner runs code on the remote backends
type RemoteRunner interface {
	Execute(ctx context.Context, req execution.Request) (fallback.Response, error)
	Backends() []fallback.BackendInfo
}

// Server is the HTTP API server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	engine     LocalEngine
	remote     RemoteRunner
	limiter    *RateLimiter
	router     *gin.Engine
	httpServer *http.Server
}

// New creates the HTTP API server
func New(cfg *config.Config, logger *zap.Logger, engine LocalEngine, remote RemoteRunner) *Server {
	if cfg.Logging.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		logger: logger,
		engine: engine,
		remote: remote,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.GlobalRPS, cfg.RateLimit.PerClientRPS, cfg.RateLimit.PerClientBurst, cfg.RateLimit.MaxConcurrent)
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	// Forwarding headers only count when the peer is a configured proxy
	if err := router.SetTrustedProxies(s.config.Server.TrustedProxies); err != nil {
		s.logger.Error("invalid trusted proxies, ignoring forwarding headers", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.CustomRecoveryWithWriter(io.Discard, s.recovery))
	router.Use(requestIDMiddleware())
	router.Use(s.requestLogger())
	router.Use(corsMiddleware(s.config.CORS))

	router.GET("/", s.home)
	router.GET("/health", s.health)
	router.GET("/languages", s.languages)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	exec := router.Group("/")
	exec.Use(rateLimitMiddleware(s.limiter))
	exec.POST("/run", s.run)
	exec.POST("/run-code", s.runCode)

	return router
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listening socket and serves in the background
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
