// Package toolexecutor owns tool registration and drives every tool call through the middleware
// chain under a timeout and a per-tool concurrency limit.
//
// Invariants:
// - Tool names are unique. Registration happens before Seal; the registry is read-only afterwards.
// - Lookups of unknown tools fail fast with ErrToolNotFound and never reach middleware.
// - At most the configured number of calls per tool hold a slot; excess calls queue FIFO up to the
//   queue depth or are rejected with ErrOverloaded.
// - Tool errors are wrapped in *PipelineError with Kind tool_failed; the original cause stays reachable.
// - A slot is held until the tool returns, even after the caller gave up on a timeout.
//
// Usage:
//
//	registry := toolexecutor.NewRegistry()
//	_ = registry.Register("calculator", calculatorTool)
//	registry.Seal()
//	pipeline := toolexecutor.NewPipeline(registry, middleware.NewChain(), toolexecutor.Options{
//		DefaultTimeout: 5 * time.Second,
//		Limits:         toolexecutor.LimiterConfig{MaxConcurrent: 4, QueueDepth: 16},
//	})
//	result, err := pipeline.Execute(ctx, "calculator", params, 0)
package toolexecutor
