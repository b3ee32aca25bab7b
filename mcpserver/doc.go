// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the two execution paths as MCP tools using
// the mark3labs/mcp-go library: run_code runs on the local engine and
// run_code_remote goes through the remote fallback orchestrator. Tool
// results are JSON documents shaped like the HTTP API responses.
//
// The server supports both stdio and streamable HTTP transports as
// configured by the mcp section of the application configuration. It is
// disabled by default.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, engine, orchestrator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.Start(ctx)
package mcpserver
