package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TaskIDKey is the context key for the task being executed
	TaskIDKey ContextKey = "task_id"
	// AgentKey is the context key for the agent name
	AgentKey ContextKey = "agent"
	// ToolKey is the context key for the tool being called
	ToolKey ContextKey = "tool"
	// CallIDKey is the context key for a single tool call
	CallIDKey ContextKey = "call_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	TaskID  string
	Agent   string
	Tool    string
	CallID  string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}

func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, CallIDKey, callID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string { return stringValue(ctx, TaskIDKey) }

// GetAgent retrieves the agent name from the context
func GetAgent(ctx context.Context) string { return stringValue(ctx, AgentKey) }

// GetTool retrieves the tool name from the context
func GetTool(ctx context.Context) string { return stringValue(ctx, ToolKey) }

// GetCallID retrieves the call ID from the context
func GetCallID(ctx context.Context) string { return stringValue(ctx, CallIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		TaskID:  GetTaskID(ctx),
		Agent:   GetAgent(ctx),
		Tool:    GetTool(ctx),
		CallID:  GetCallID(ctx),
	}
}

// NewTaskContext starts a trace for a task unless the context already carries one.
func NewTaskContext(ctx context.Context, agent, taskID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithAgent(ctx, agent)
	return WithTaskID(ctx, taskID)
}
