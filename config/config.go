package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Execution ExecutionConfig           `mapstructure:"execution"`
	Languages map[string]LanguageConfig `mapstructure:"languages"`
	Remote    RemoteConfig              `mapstructure:"remote"`
	CORS      CORSConfig                `mapstructure:"cors"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	MCP       MCPConfig                 `mapstructure:"mcp"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPPort        int `mapstructure:"http_port"`
	ReadTimeoutSec  int `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `mapstructure:"write_timeout_sec"`
	// TrustedProxies lists the proxy IPs or CIDRs whose forwarding headers
	// identify the client. Empty means the peer address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// ExecutionConfig holds the ceilings applied to local executions
type ExecutionConfig struct {
	MaxSourceChars  int    `mapstructure:"max_source_chars"`
	MaxOutputChars  int    `mapstructure:"max_output_chars"`
	RunTimeoutSec   int    `mapstructure:"run_timeout_sec"`
	MemoryMB        int    `mapstructure:"memory_mb"`
	CPUTimeSec      int    `mapstructure:"cpu_time_sec"`
	CompileMemoryMB int    `mapstructure:"compile_memory_mb"`
	MaxProcesses    int    `mapstructure:"max_processes"`
	TempDir         string `mapstructure:"temp_dir"`
}

// LanguageConfig describes how one local language is compiled and run.
// Exactly one of Interpreter or Compiler is set.
type LanguageConfig struct {
	Name              string `mapstructure:"name"`
	Extension         string `mapstructure:"extension"`
	SourceFile        string `mapstructure:"source_file"`
	Interpreter       string `mapstructure:"interpreter"`
	Compiler          string `mapstructure:"compiler"`
	CompileFlags      string `mapstructure:"compile_flags"`
	CompileTimeoutSec int    `mapstructure:"compile_timeout_sec"`
}

// Compiled reports whether the language has a compile phase
func (l LanguageConfig) Compiled() bool {
	return l.Compiler != ""
}

// RemoteConfig holds the two remote execution backends
type RemoteConfig struct {
	Primary     BackendConfig `mapstructure:"primary"`
	Secondary   BackendConfig `mapstructure:"secondary"`
	QuotaMarker string        `mapstructure:"quota_marker"`
}

// BackendConfig holds one remote backend's endpoint, credentials and language map
type BackendConfig struct {
	Name         string            `mapstructure:"name"`
	Endpoint     string            `mapstructure:"endpoint"`
	ClientID     string            `mapstructure:"client_id"`
	ClientSecret string            `mapstructure:"client_secret"`
	TimeoutSec   int               `mapstructure:"timeout_sec"`
	Languages    map[string]string `mapstructure:"languages"`
}

// HasCredentials reports whether both credential halves are configured
func (b BackendConfig) HasCredentials() bool {
	return b.ClientID != "" && b.ClientSecret != ""
}

// Timeout returns the network timeout as a duration
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// CORSConfig holds cross-origin settings for the HTTP API
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds request limits for the execution endpoints
type RateLimitConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	GlobalRPS      float64 `mapstructure:"global_rps"`
	PerClientRPS   float64 `mapstructure:"per_client_rps"`
	PerClientBurst int     `mapstructure:"per_client_burst"`
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MCPConfig holds the optional Model Context Protocol surface configuration
type MCPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// New loads and validates the application configuration from ./config.yaml,
// ./config/config.yaml and the environment
func New() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	return load(v)
}

// NewFromFile loads the configuration from an explicit YAML file
func NewFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment names used by existing deployments
	_ = v.BindEnv("server.http_port", "PORT")
	_ = v.BindEnv("remote.primary.client_id", "JDOODLE_CLIENT_ID")
	_ = v.BindEnv("remote.primary.client_secret", "JDOODLE_CLIENT_SECRET")

	setDefaults(v)
	return v
}

//nolint:funlen // flat list of defaults
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 10000)
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.write_timeout_sec", 75)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("execution.max_source_chars", 10000)
	v.SetDefault("execution.max_output_chars", 50000)
	v.SetDefault("execution.run_timeout_sec", 5)
	v.SetDefault("execution.memory_mb", 50)
	v.SetDefault("execution.cpu_time_sec", 5)
	v.SetDefault("execution.compile_memory_mb", 1024)
	v.SetDefault("execution.max_processes", 64)
	v.SetDefault("execution.temp_dir", "")

	// Python defaults
	v.SetDefault("languages.python.name", "Python 3")
	v.SetDefault("languages.python.extension", ".py")
	v.SetDefault("languages.python.source_file", "main.py")
	v.SetDefault("languages.python.interpreter", "python3")

	// C defaults
	v.SetDefault("languages.c.name", "C (GCC)")
	v.SetDefault("languages.c.extension", ".c")
	v.SetDefault("languages.c.source_file", "main.c")
	v.SetDefault("languages.c.compiler", "gcc")
	v.SetDefault("languages.c.compile_flags", "-lm")
	v.SetDefault("languages.c.compile_timeout_sec", 10)

	// C++ defaults
	v.SetDefault("languages.cpp.name", "C++ (G++)")
	v.SetDefault("languages.cpp.extension", ".cpp")
	v.SetDefault("languages.cpp.source_file", "main.cpp")
	v.SetDefault("languages.cpp.compiler", "g++")
	v.SetDefault("languages.cpp.compile_flags", "-std=c++17")
	v.SetDefault("languages.cpp.compile_timeout_sec", 15)

	v.SetDefault("remote.quota_marker", "Daily Limit Reached")

	v.SetDefault("remote.primary.name", "JDoodle")
	v.SetDefault("remote.primary.endpoint", "https://api.jdoodle.com/v1/execute")
	v.SetDefault("remote.primary.client_id", "")
	v.SetDefault("remote.primary.client_secret", "")
	v.SetDefault("remote.primary.timeout_sec", 30)
	v.SetDefault("remote.primary.languages", map[string]string{
		"c":      "c",
		"cpp":    "cpp17",
		"python": "python3",
		"java":   "java",
		"js":     "nodejs",
		"csharp": "csharp",
		"go":     "go",
		"kotlin": "kotlin",
		"swift":  "swift",
		"dart":   "dart",
	})

	v.SetDefault("remote.secondary.name", "Piston")
	v.SetDefault("remote.secondary.endpoint", "https://emkc.org/api/v2/piston/execute")
	v.SetDefault("remote.secondary.timeout_sec", 30)
	v.SetDefault("remote.secondary.languages", map[string]string{
		"c":      "c",
		"cpp":    "c++",
		"python": "python",
		"java":   "java",
		"js":     "javascript",
		"csharp": "csharp",
		"go":     "go",
		"kotlin": "kotlin",
		"swift":  "swift",
		"dart":   "dart",
	})

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-Id"})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.global_rps", 50)
	v.SetDefault("rate_limit.per_client_rps", 5)
	v.SetDefault("rate_limit.per_client_burst", 10)
	v.SetDefault("rate_limit.max_concurrent", 16)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.http_port", 8090)
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // one check per field
func (c *Config) validate() error {
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid server.trusted_proxies entry: %s", proxy)
			}
		}
	}

	if c.Execution.MaxSourceChars <= 0 {
		return fmt.Errorf("execution.max_source_chars must be positive, got: %d", c.Execution.MaxSourceChars)
	}

	if c.Execution.MaxOutputChars <= 0 {
		return fmt.Errorf("execution.max_output_chars must be positive, got: %d", c.Execution.MaxOutputChars)
	}

	if c.Execution.RunTimeoutSec <= 0 {
		return fmt.Errorf("execution.run_timeout_sec must be positive, got: %d", c.Execution.RunTimeoutSec)
	}

	if c.Execution.MemoryMB <= 0 {
		return fmt.Errorf("execution.memory_mb must be positive, got: %d", c.Execution.MemoryMB)
	}

	if c.Execution.CPUTimeSec <= 0 {
		return fmt.Errorf("execution.cpu_time_sec must be positive, got: %d", c.Execution.CPUTimeSec)
	}

	if c.Execution.CompileMemoryMB <= 0 {
		return fmt.Errorf("execution.compile_memory_mb must be positive, got: %d", c.Execution.CompileMemoryMB)
	}

	if c.Execution.MaxProcesses <= 0 {
		return fmt.Errorf("execution.max_processes must be positive, got: %d", c.Execution.MaxProcesses)
	}

	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one language must be configured")
	}

	for id, lang := range c.Languages {
		if lang.SourceFile == "" {
			return fmt.Errorf("languages.%s.source_file is required", id)
		}
		if lang.Compiled() == (lang.Interpreter != "") {
			return fmt.Errorf("languages.%s must set exactly one of interpreter or compiler", id)
		}
		if lang.Compiled() && lang.CompileTimeoutSec <= 0 {
			return fmt.Errorf("languages.%s.compile_timeout_sec must be positive, got: %d", id, lang.CompileTimeoutSec)
		}
	}

	for _, b := range []struct {
		key     string
		backend BackendConfig
	}{
		{"remote.primary", c.Remote.Primary},
		{"remote.secondary", c.Remote.Secondary},
	} {
		if b.backend.Endpoint == "" {
			return fmt.Errorf("%s.endpoint is required", b.key)
		}
		if b.backend.TimeoutSec <= 0 {
			return fmt.Errorf("%s.timeout_sec must be positive, got: %d", b.key, b.backend.TimeoutSec)
		}
	}

	// A response written after the deadline is lost, so the slowest request
	// must still finish inside it
	if limit := c.MaxRequestDuration(); time.Duration(c.Server.WriteTimeoutSec)*time.Second <= limit {
		return fmt.Errorf("server.write_timeout_sec must exceed the longest execution (%ds), got: %d",
			int(limit.Seconds()), c.Server.WriteTimeoutSec)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.MCP.Enabled && c.MCP.Transport != "stdio" && c.MCP.Transport != "http" {
		return fmt.Errorf("invalid mcp.transport: %s, must be 'stdio' or 'http'", c.MCP.Transport)
	}

	return nil
}

// RunTimeout returns the execution timeout as a duration
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Execution.RunTimeoutSec) * time.Second
}

// MaxRequestDuration returns the longest one execution request can take: a
// remote request that waits out both backends, or a local compile and run
func (c *Config) MaxRequestDuration() time.Duration {
	longest := c.Remote.Primary.Timeout() + c.Remote.Secondary.Timeout()
	for _, lang := range c.Languages {
		local := c.RunTimeout() + time.Duration(lang.CompileTimeoutSec)*time.Second
		if local > longest {
			longest = local
		}
	}
	return longest
}
