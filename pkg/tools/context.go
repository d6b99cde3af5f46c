package tools

import "context"

type currentToolCallKey struct{}

// WithCurrentToolCall annotates ctx with the call being executed.
func WithCurrentToolCall(ctx context.Context, call ToolCall) context.Context {
	return context.WithValue(ctx, currentToolCallKey{}, call)
}

// CurrentToolCallFromContext returns the call being executed, if any.
func CurrentToolCallFromContext(ctx context.Context) (ToolCall, bool) {
	if ctx == nil {
		return ToolCall{}, false
	}
	call, ok := ctx.Value(currentToolCallKey{}).(ToolCall)
	return call, ok
}
