// Package middleware composes cross-cutting policy around tool calls.
//
// Invariants:
// - A Chain runs its middleware in declared order on the way in and in reverse order on the way out.
// - A middleware that returns without calling next stops the chain; later middleware and the tool never run.
// - Chains are assembled while an agent is being built and are read-only afterwards.
//
// Usage:
//
//	chain := middleware.NewChain(
//		middleware.NewLogging(logger),
//		middleware.NewValidation(registry),
//	)
//	handler := chain.Then(invokeTool)
//	result, err := handler(ctx, &middleware.Call{Tool: "calculator", Params: params})
package middleware
