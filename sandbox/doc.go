// Package sandbox provides secure code execution capabilities.
//
// The sandbox package implements the local execution path: a resource
// Limiter that applies address-space and CPU ceilings to every spawned
// process, per-language executors (interpreted and compiled), and the Engine
// that validates requests and dispatches them by language.
//
// Isolation is a best-effort resource-limited subprocess. Each execution
// gets its own scratch directory which is removed on every exit path, and is
// killed together with its descendants when its timeout expires or when it
// exits.
//
// Limits are applied by re-executing the running binary as a small helper
// (see HelperCommand). The helper supervises the target as a child subreaper,
// so descendants that call setsid are still found and killed. Any binary that
// spawns through a Limiter must call MaybeRunHelper first thing in main (or
// TestMain).
//
// Usage:
//
//	limiter, err := sandbox.NewLimiterFromConfig(cfg)
//	engine, err := sandbox.NewEngineFromConfig(logger, cfg, limiter)
//	result, err := engine.Execute(ctx, execution.Request{
//	    Language: "python",
//	    Source:   "print('Hello, World!')",
//	})
package sandbox
