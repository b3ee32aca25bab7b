// Package fallback implements the Fallback Orchestrator that drives the
// remote execution path.
//
// A request first tries the primary backend, but only when its credentials
// are configured. Network failures, malformed responses and quota
// exhaustion fall through to the secondary backend, whose answer is final.
// Exactly one backend's result is returned per request.
package fallback
