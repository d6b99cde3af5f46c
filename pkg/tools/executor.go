package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/executor"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Observer is notified around every tool call.
type Observer interface {
	ToolStarted(ctx context.Context, call ToolCall, maskedArgs string)
	ToolFinished(ctx context.Context, call ToolCall, result *ToolResult)
}

// PoolExecutor runs tool calls as tasks on an executor.Pool, so each tool
// function runs on a pooled worker with the caller's propagated context.
type PoolExecutor struct {
	config    ToolConfig
	pool      *executor.Pool
	registry  ToolRegistry
	observers []Observer
}

func NewPoolExecutor(cfg ToolConfig, pool *executor.Pool, registry ToolRegistry, observers ...Observer) *PoolExecutor {
	return &PoolExecutor{
		config:    cfg,
		pool:      pool,
		registry:  registry,
		observers: observers,
	}
}

func (e *PoolExecutor) Registry() ToolRegistry {
	return e.registry
}

func (e *PoolExecutor) Config() ToolConfig {
	return e.config
}

// ExecuteToolCall runs one call. Unknown, forbidden and failing tools yield a
// result with Error set and a nil error; the error return is reserved for
// cancellation of ctx and a saturated pool.
func (e *PoolExecutor) ExecuteToolCall(ctx context.Context, call ToolCall) (*ToolResult, error) {
	start := time.Now()
	logger := mdc.Ctx(ctx).With().Str("component", "tools").Str("tool", call.Name).Str("call_id", call.ID).Logger()

	def, err := e.registry.GetTool(call.Name)
	if err != nil {
		return e.failed(call, start, ErrorTypeNotFound, fmt.Sprintf("tool not found: %s", call.Name)), nil
	}
	call.Name = def.Name
	if !e.config.IsToolAllowed(def.Name) {
		return e.failed(call, start, ErrorTypeForbidden, fmt.Sprintf("tool not allowed: %s", def.Name)), nil
	}
	if e.config.ValidateArguments {
		if err := def.ValidateArguments(call.Arguments); err != nil {
			return e.failed(call, start, ErrorTypeValidation, err.Error()), nil
		}
	}

	ctx = WithCurrentToolCall(ctx, call)
	masked := maskArguments(call.Arguments)
	for _, o := range e.observers {
		o.ToolStarted(ctx, call, masked)
	}

	var result *ToolResult
	var execErr error
	retries := 0
	for attempt := 0; ; attempt++ {
		result, execErr = e.executeOnce(ctx, call, def)
		if execErr != nil || result.Error == "" || !e.shouldRetry(attempt) {
			break
		}
		backoff := e.config.RetryConfig.Backoff(attempt)
		logger.Debug().Int("attempt", attempt).Dur("backoff", backoff).Str("error", result.Error).Msg("retrying tool call")
		select {
		case <-ctx.Done():
			result = &ToolResult{Error: "context cancelled during retry backoff"}
			execErr = ctx.Err()
		case <-time.After(backoff):
			retries++
			continue
		}
		break
	}

	if result == nil {
		result = &ToolResult{}
	}
	result.ID = call.ID
	result.Name = call.Name
	result.Retries = retries
	result.Duration = time.Since(start)

	for _, o := range e.observers {
		o.ToolFinished(ctx, call, result)
	}
	logger.Debug().Dur("duration", result.Duration).Str("error", result.Error).Msg("tool call finished")
	return result, execErr
}

func (e *PoolExecutor) shouldRetry(attempt int) bool {
	return e.config.ToolErrorHandling == ToolErrorRetry && attempt < e.config.RetryConfig.MaxRetries
}

func (e *PoolExecutor) executeOnce(ctx context.Context, call ToolCall, def *ToolDefinition) (*ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return &ToolResult{Error: "execution cancelled"}, err
	}

	runCtx := ctx
	if e.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.ExecutionTimeout)
		defer cancel()
	}

	var out any
	var toolErr error
	future, err := e.pool.Submit(runCtx, func(workerCtx context.Context) error {
		out, toolErr = def.Function.Execute(workerCtx, call.Arguments)
		return nil
	})
	if err != nil {
		return &ToolResult{Error: err.Error()}, errors.Wrapf(err, "submitting %s", call.Name)
	}

	if err := future.Wait(runCtx); err != nil {
		if ctx.Err() != nil {
			return &ToolResult{Error: "execution cancelled"}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return e.timedOut(call), nil
		}
		return &ToolResult{Error: err.Error()}, nil
	}
	// the future is done, out and toolErr are settled
	if toolErr != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return e.timedOut(call), nil
		}
		return &ToolResult{Error: toolErr.Error()}, nil
	}
	return &ToolResult{Result: out}, nil
}

func (e *PoolExecutor) timedOut(call ToolCall) *ToolResult {
	te := &ToolError{ToolName: call.Name, ToolID: call.ID, Type: ErrorTypeTimeout, Message: "execution timed out"}
	return &ToolResult{Error: te.Error()}
}

func (e *PoolExecutor) failed(call ToolCall, start time.Time, kind, msg string) *ToolResult {
	r := &ToolResult{
		ID:       call.ID,
		Name:     call.Name,
		Error:    msg,
		Duration: time.Since(start),
	}
	if kind == ErrorTypeValidation {
		r.Error = "invalid arguments: " + msg
	}
	return r
}

// ExecuteToolCalls runs calls with at most MaxParallelTools at a time and
// returns the results in call order.
func (e *PoolExecutor) ExecuteToolCalls(ctx context.Context, calls []ToolCall) ([]*ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	results := make([]*ToolResult, len(calls))

	if e.config.MaxParallelTools <= 1 || len(calls) == 1 {
		for i, c := range calls {
			r, err := e.ExecuteToolCall(ctx, c)
			results[i] = r
			if err != nil {
				return results, err
			}
			if r.Error != "" && e.config.ToolErrorHandling == ToolErrorAbort {
				return results, errors.Errorf("tool execution aborted due to error in %s: %s", c.Name, r.Error)
			}
		}
		return results, nil
	}

	g := &errgroup.Group{}
	g.SetLimit(e.config.MaxParallelTools)
	for i, c := range calls {
		g.Go(func() error {
			r, err := e.ExecuteToolCall(ctx, c)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if e.config.ToolErrorHandling == ToolErrorAbort {
		for i, r := range results {
			if r != nil && r.Error != "" {
				return results, errors.Errorf("tool execution aborted due to error in %s: %s", calls[i].Name, r.Error)
			}
		}
	}
	return results, nil
}

func maskArguments(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var tmp any
	if err := json.Unmarshal(args, &tmp); err == nil {
		if b, err := json.Marshal(tmp); err == nil {
			return string(b)
		}
	}
	return string(args)
}
