// Package execution defines the request and result records shared by every
// execution path.
//
// Both the local sandbox engine and the remote fallback orchestrator accept a
// Request and produce a Result, so the HTTP and MCP layers never see
// backend-specific shapes.
package execution
