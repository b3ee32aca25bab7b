package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/fallback"
)

const (
	msgNoBody      = "No JSON body provided"
	msgInvalidBody = "Invalid JSON body"
	msgInternal    = "Internal server error"
	msgTimeout     = "Execution timeout"
)

// runRequest is the /run body
type runRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

// runResponse is the /run result
type runResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	ExitCode int    `json:"exit_code"`
	Language string `json:"language,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

// runCodeRequest is the /run-code body
type runCodeRequest struct {
	Script   string `json:"script"`
	Language string `json:"language"`
	Stdin    string `json:"stdin"`
}

// bindBody decodes the JSON body and returns the client error message when it cannot
func bindBody(c *gin.Context, dst any) (string, bool) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return msgNoBody, false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return msgNoBody, false
		}
		return msgInvalidBody, false
	}
	return "", true
}

// run executes code on the local engine
func (s *Server) run(c *gin.Context) {
	var body runRequest
	if msg, ok := bindBody(c, &body); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	req := execution.Request{
		Source:   body.Code,
		Language: execution.NormalizeLanguage(body.Language),
		Stdin:    body.Input,
	}

	result, err := s.engine.Execute(c.Request.Context(), req)
	if err != nil {
		var validationErr *execution.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
			return
		}
		s.logger.Error("local execution failed", zap.String("language", req.Language), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msgInternal})
		return
	}

	if result.TimedOut {
		c.JSON(http.StatusRequestTimeout, runResponse{
			Success:  false,
			Output:   "",
			Error:    result.Stderr,
			ExitCode: -1,
		})
		return
	}

	c.JSON(http.StatusOK, runResponse{
		Success:  result.Success,
		Output:   result.Stdout,
		Error:    result.Stderr,
		ExitCode: result.ExitCode,
		Language: result.Language,
		Phase:    string(result.Phase),
	})
}

// runCode executes code remotely through the fallback orchestrator
func (s *Server) runCode(c *gin.Context) {
	var body runCodeRequest
	if msg, ok := bindBody(c, &body); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "success": false})
		return
	}

	req := execution.Request{
		Source:   body.Script,
		Language: execution.NormalizeLanguage(body.Language),
		Stdin:    body.Stdin,
	}

	resp, err := s.remote.Execute(c.Request.Context(), req)
	if err != nil {
		var validationErr *execution.ValidationError
		switch {
		case errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "success": false})
		case errors.Is(err, fallback.ErrTimeout):
			c.JSON(http.StatusRequestTimeout, gin.H{"error": msgTimeout, "success": false})
		default:
			s.logger.Error("remote execution failed", zap.String("language", req.Language), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal, "success": false})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// home describes the service
func (s *Server) home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    ServiceName,
		"version": Version,
		"endpoints": gin.H{
			"/health":    "Health check",
			"/run":       "Execute code locally (POST)",
			"/run-code":  "Execute code remotely with fallback (POST)",
			"/languages": "Supported languages (GET)",
			"/metrics":   "Prometheus metrics (GET)",
		},
	})
}

// health is the liveness probe
func (s *Server) health(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   Version,
		"timestamp": float64(now.UnixNano()) / float64(time.Second),
		"datetime":  now.Format(time.RFC3339Nano),
	})
}

// languages lists the local and remote capability tables
func (s *Server) languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"languages": s.engine.Languages(),
		"remote":    s.remote.Backends(),
	})
}
