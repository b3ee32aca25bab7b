// Package main is the entry point for the code runner service.
//
// The service executes untrusted Python, C and C++ programs as
// resource-limited subprocesses behind POST /run, and proxies a wider set of
// languages to remote execution backends behind POST /run-code, falling back
// from the primary backend to the secondary one. An optional MCP surface
// exposes the same two paths as tools.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
//
// The binary doubles as the rlimit helper: when started with the helper
// command as its first argument it applies resource limits to itself and
// execs the target program instead of starting the service.
package main
