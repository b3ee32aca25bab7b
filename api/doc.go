// Package api exposes the code runner over HTTP.
//
// Routes:
//
//	GET  /           service descriptor
//	GET  /health     liveness probe
//	GET  /languages  local and remote capability tables
//	GET  /metrics    Prometheus metrics
//	POST /run        execute on the local engine
//	POST /run-code   execute remotely through the fallback orchestrator
//
// The api package is the only place where execution outcomes are mapped to
// HTTP status codes.
package api
