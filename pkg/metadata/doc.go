// Package metadata provides the ordered, dynamically typed key/value container that carries tool
// parameters and tool results between the registry, the middleware chain, the pipeline and the agent.
//
// Invariants:
// - Keys are unique within one Metadata; re-inserting a key replaces its value and keeps its position.
// - Reads never convert between kinds. A mismatch returns *TypeMismatchError, a missing key *MissingKeyError.
// - JSON encoding preserves insertion order. Integer literals decode as Int, other numbers as Float.
//
// Usage:
//
//	params := metadata.New().
//		Insert("a", metadata.Float(5)).
//		Insert("b", metadata.Float(3))
//	a, err := params.GetFloat("a")
//	_ = a
//	_ = err
package metadata
