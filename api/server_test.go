package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fluxflow/coderunner/config"
	"github.com/fluxflow/coderunner/execution"
	"github.com/fluxflow/coderunner/fallback"
	"github.com/fluxflow/coderunner/sandbox"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// MockEngine implements LocalEngine for testing
type MockEngine struct {
	result   execution.Result
	err      error
	panicMsg string
	lastReq  execution.Request
}

func (m *MockEngine) Execute(_ context.Context, req execution.Request) (execution.Result, error) { //nolint:gocritic // Mock implementation requires full parameter signature
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.lastReq = req
	return m.result, m.err
}

func (m *MockEngine) Languages() []sandbox.LanguageInfo {
	return []sandbox.LanguageInfo{
		{ID: "c", Name: "C (GCC)", Extension: ".c"},
		{ID: "python", Name: "Python 3", Extension: ".py"},
	}
}

// MockRemote implements RemoteRunner for testing
type MockRemote struct {
	response fallback.Response
	err      error
	lastReq  execution.Request
}

func (m *MockRemote) Execute(_ context.Context, req execution.Request) (fallback.Response, error) { //nolint:gocritic // Mock implementation requires full parameter signature
	m.lastReq = req
	return m.response, m.err
}

func (m *MockRemote) Backends() []fallback.BackendInfo {
	return []fallback.BackendInfo{{Name: "Piston", Enabled: true, Languages: []string{"go", "python"}}}
}

func testConfig() *config.Config {
	return &config.Config{
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
}

func newTestServer(t *testing.T, engine *MockEngine, remote *MockRemote) *Server {
	t.Helper()
	return New(testConfig(), zaptest.NewLogger(t), engine, remote)
}

func doRequest(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestRun(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		engine := &MockEngine{result: execution.Result{Success: true, Stdout: "Hello World\n", Language: "python"}}
		s := newTestServer(t, engine, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":"print('Hello World')","language":"Python","input":"x"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]any{
			"success":   true,
			"output":    "Hello World\n",
			"error":     "",
			"exit_code": float64(0),
			"language":  "python",
		}, body)
		assert.Equal(t, execution.Request{Source: "print('Hello World')", Language: "python", Stdin: "x"}, engine.lastReq)
	})

	t.Run("LanguageDefaultsToPython", func(t *testing.T) {
		engine := &MockEngine{result: execution.Result{Success: true}}
		s := newTestServer(t, engine, &MockRemote{})

		rec, _ := doRequest(t, s, http.MethodPost, "/run", `{"code":"pass"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "python", engine.lastReq.Language)
	})

	t.Run("CompiledResultCarriesPhase", func(t *testing.T) {
		engine := &MockEngine{result: execution.Result{Stderr: "error: expected ';'", ExitCode: 1, Phase: execution.PhaseCompilation, Language: "cpp"}}
		s := newTestServer(t, engine, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":"int main() { return","language":"cpp"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "compilation", body["phase"])
		assert.Equal(t, "", body["output"])
		assert.Equal(t, float64(1), body["exit_code"])
	})

	t.Run("Timeout", func(t *testing.T) {
		engine := &MockEngine{result: sandbox.TimeoutResult("python", execution.PhaseNone, "Execution", 5*time.Second)}
		s := newTestServer(t, engine, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":"import time\ntime.sleep(10)","language":"python"}`)
		assert.Equal(t, http.StatusRequestTimeout, rec.Code)
		assert.Equal(t, map[string]any{
			"success":   false,
			"output":    "",
			"error":     "Execution timeout (5s limit exceeded)",
			"exit_code": float64(-1),
		}, body)
	})

	t.Run("ValidationError", func(t *testing.T) {
		engine := &MockEngine{err: execution.Validationf("No code provided")}
		s := newTestServer(t, engine, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":"","language":"python"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "No code provided"}, body)
	})

	t.Run("NoBody", func(t *testing.T) {
		s := newTestServer(t, &MockEngine{}, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No JSON body provided", body["error"])
	})

	t.Run("InvalidBody", func(t *testing.T) {
		s := newTestServer(t, &MockEngine{}, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON body", body["error"])
	})

	t.Run("InternalErrorIsGeneric", func(t *testing.T) {
		engine := &MockEngine{err: errors.New("failed to create temp dir: mkdir /var/tmp/coderunner-123: permission denied")}
		s := newTestServer(t, engine, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":"print(1)"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, map[string]any{"success": false, "error": "Internal server error"}, body)
	})

	t.Run("PanicIsRecovered", func(t *testing.T) {
		engine := &MockEngine{panicMsg: "boom"}
		s := newTestServer(t, engine, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run", `{"code":"print(1)"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Internal server error", body["error"])
	})
}

func TestRunCode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		remote := &MockRemote{response: fallback.Response{Success: true, Output: "hi\n", Source: "Piston", Language: "go"}}
		s := newTestServer(t, &MockEngine{}, remote)

		rec, body := doRequest(t, s, http.MethodPost, "/run-code", `{"script":"package main","language":"GO","stdin":"in"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]any{
			"success":  true,
			"output":   "hi\n",
			"error":    "",
			"source":   "Piston",
			"language": "go",
		}, body)
		assert.Equal(t, execution.Request{Source: "package main", Language: "go", Stdin: "in"}, remote.lastReq)
	})

	t.Run("BackendErrorIsStill200", func(t *testing.T) {
		remote := &MockRemote{response: fallback.Response{Error: "Piston Error: runtime is unknown", Source: "Piston", Language: "cobol"}}
		s := newTestServer(t, &MockEngine{}, remote)

		rec, body := doRequest(t, s, http.MethodPost, "/run-code", `{"script":"x","language":"cobol"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Piston Error: runtime is unknown", body["error"])
	})

	t.Run("NoScript", func(t *testing.T) {
		remote := &MockRemote{err: execution.Validationf("No script provided")}
		s := newTestServer(t, &MockEngine{}, remote)

		rec, body := doRequest(t, s, http.MethodPost, "/run-code", `{"language":"python"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "No script provided", "success": false}, body)
	})

	t.Run("NoBody", func(t *testing.T) {
		s := newTestServer(t, &MockEngine{}, &MockRemote{})

		rec, body := doRequest(t, s, http.MethodPost, "/run-code", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "No JSON body provided", "success": false}, body)
	})

	t.Run("Timeout", func(t *testing.T) {
		remote := &MockRemote{err: errors.Join(errors.New("Piston"), fallback.ErrTimeout)}
		s := newTestServer(t, &MockEngine{}, remote)

		rec, body := doRequest(t, s, http.MethodPost, "/run-code", `{"script":"x"}`)
		assert.Equal(t, http.StatusRequestTimeout, rec.Code)
		assert.Equal(t, map[string]any{"error": "Execution timeout", "success": false}, body)
	})

	t.Run("InternalError", func(t *testing.T) {
		remote := &MockRemote{err: errors.New("dial tcp: lookup emkc.org: no such host")}
		s := newTestServer(t, &MockEngine{}, remote)

		rec, body := doRequest(t, s, http.MethodPost, "/run-code", `{"script":"x"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Internal server error", body["error"])
	})
}

func TestInfoEndpoints(t *testing.T) {
	s := newTestServer(t, &MockEngine{}, &MockRemote{})

	t.Run("Home", func(t *testing.T) {
		rec, body := doRequest(t, s, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ServiceName, body["name"])
		assert.Equal(t, Version, body["version"])
		assert.Contains(t, body["endpoints"], "/run")
	})

	t.Run("Health", func(t *testing.T) {
		rec, body := doRequest(t, s, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, Version, body["version"])
		assert.IsType(t, float64(0), body["timestamp"])
		assert.NotEmpty(t, body["datetime"])
	})

	t.Run("Languages", func(t *testing.T) {
		rec, body := doRequest(t, s, http.MethodGet, "/languages", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		langs, ok := body["languages"].([]any)
		require.True(t, ok)
		require.Len(t, langs, 2)
		assert.Equal(t, map[string]any{"id": "c", "name": "C (GCC)", "extension": ".c"}, langs[0])

		remote, ok := body["remote"].([]any)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"name": "Piston", "enabled": true, "languages": []any{"go", "python"}}, remote[0])
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestMiddleware(t *testing.T) {
	s := newTestServer(t, &MockEngine{}, &MockRemote{})

	t.Run("AssignsRequestID", func(t *testing.T) {
		rec, _ := doRequest(t, s, http.MethodGet, "/health", "")
		assert.Len(t, rec.Header().Get(requestIDHeader), 36)
	})

	t.Run("PropagatesRequestID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/run", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("CORSRestrictedOrigins", func(t *testing.T) {
		cfg := testConfig()
		cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
		restricted := New(cfg, zaptest.NewLogger(t), &MockEngine{}, &MockRemote{})

		req := httptest.NewRequest(http.MethodOptions, "/run", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		restricted.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec = httptest.NewRecorder()
		restricted.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("RateLimit", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, GlobalRPS: 100, PerClientRPS: 0.001, PerClientBurst: 1, MaxConcurrent: 4}
		limited := New(cfg, zaptest.NewLogger(t), &MockEngine{result: execution.Result{Success: true}}, &MockRemote{})

		rec, _ := doRequest(t, limited, http.MethodPost, "/run", `{"code":"pass"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, body := doRequest(t, limited, http.MethodPost, "/run", `{"code":"pass"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "Too many requests", body["error"])

		// Informational routes are not limited
		rec, _ = doRequest(t, limited, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	forwardedRun := func(s *Server, remoteAddr, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"code":"pass"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("RateLimitIgnoresForwardedForFromUntrustedPeer", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, GlobalRPS: 1000, PerClientRPS: 0.001, PerClientBurst: 1, MaxConcurrent: 4}
		limited := New(cfg, zaptest.NewLogger(t), &MockEngine{result: execution.Result{Success: true}}, &MockRemote{})

		allowed := 0
		for i := 0; i < 20; i++ {
			if forwardedRun(limited, "203.0.113.7:40000", fmt.Sprintf("10.1.0.%d", i)) == http.StatusOK {
				allowed++
			}
		}
		assert.Equal(t, 1, allowed)
	})

	t.Run("RateLimitHonoursForwardedForFromTrustedProxy", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.TrustedProxies = []string{"203.0.113.0/24"}
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, GlobalRPS: 1000, PerClientRPS: 0.001, PerClientBurst: 1, MaxConcurrent: 4}
		limited := New(cfg, zaptest.NewLogger(t), &MockEngine{result: execution.Result{Success: true}}, &MockRemote{})

		assert.Equal(t, http.StatusOK, forwardedRun(limited, "203.0.113.7:40000", "198.51.100.1"))
		assert.Equal(t, http.StatusOK, forwardedRun(limited, "203.0.113.7:40000", "198.51.100.2"))
		assert.Equal(t, http.StatusTooManyRequests, forwardedRun(limited, "203.0.113.7:40000", "198.51.100.1"))
	})
}

func TestRunCodeTimeoutReachesClient(t *testing.T) {
	hanging := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer hanging.Close()

	cfg := testConfig()
	cfg.Server.WriteTimeoutSec = 3
	cfg.Execution.MaxOutputChars = 1000
	cfg.Remote = config.RemoteConfig{
		Primary: config.BackendConfig{
			Name: "JDoodle", Endpoint: hanging.URL, ClientID: "id", ClientSecret: "secret", TimeoutSec: 1,
		},
		Secondary:   config.BackendConfig{Name: "Piston", Endpoint: hanging.URL, TimeoutSec: 1},
		QuotaMarker: "Daily Limit Reached",
	}
	require.Greater(t, time.Duration(cfg.Server.WriteTimeoutSec)*time.Second, cfg.MaxRequestDuration())

	logger := zaptest.NewLogger(t)
	s := New(cfg, logger, &MockEngine{}, fallback.NewFromConfig(logger, cfg))

	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config = s.httpServer
	ts.Start()
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/run-code", "application/json",
		strings.NewReader(`{"script":"while True: pass","language":"python"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Execution timeout", body["error"])
	assert.Equal(t, false, body["success"])
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t, &MockEngine{}, &MockRemote{})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}
