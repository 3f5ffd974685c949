// Package task tracks the lifecycle of every unit of work an agent accepts.
//
// A task starts Pending, moves to Running when its tool call holds a pipeline slot, and ends in
// exactly one of Completed, Failed or Cancelled. Transitions on one task are serialized by a
// per-task lock; readers load an immutable snapshot and never take a lock. Re-delivering the
// terminal transition a task already took is a no-op, any other transition out of a terminal
// state fails with *TransitionError.
//
// A Store makes snapshots durable. The Tracker stays authoritative while the process runs and
// only falls back to the store in Lookup.
package task
