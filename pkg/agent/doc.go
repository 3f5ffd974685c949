// Package agent turns a task request into a tool call and a tracked task outcome.
//
// Invariants:
// - Config is immutable once Build returns.
// - The "tool" key of the request names the tool; it must match one of the agent's capability patterns.
// - Every accepted request has exactly one task, and that task ends in exactly one terminal state.
// - Late outcomes for a task that was already cancelled are discarded.
//
// Usage:
//
//	a, err := agent.NewBuilder("math").
//		Capabilities("calculator").
//		Tool("calculator", calc).
//		Middleware(middleware.NewLogging(nil)).
//		Build()
//	if err != nil {
//		return err
//	}
//	params := metadata.New().
//		Insert("tool", metadata.String("calculator")).
//		Insert("a", metadata.Float(5)).
//		Insert("b", metadata.Float(3))
//	result, err := a.ExecuteTask(ctx, "", params)
package agent
