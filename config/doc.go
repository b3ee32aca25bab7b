// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and the environment. It covers the HTTP
// server, the ceilings applied to local executions, the local language
// toolchains, the two remote execution backends and the optional MCP surface.
//
// The returned Config is built once at startup and treated as read-only.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Listening on: %d\n", cfg.Server.HTTPPort)
package config
