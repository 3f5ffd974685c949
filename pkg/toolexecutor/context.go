package toolexecutor

import "context"

// CallInfo identifies the call a tool is serving.
type CallInfo struct {
	Tool   string
	TaskID string
}

type callInfoKey struct{}

// ContextWithCallInfo attaches call information to a context for tool implementations.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the call information attached by the pipeline.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	if ctx == nil {
		return CallInfo{}, false
	}
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
